// Package config loads the run file and the process settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ogulcanaydogan/llm-table-fill/pkg/schema"
	"github.com/ogulcanaydogan/llm-table-fill/pkg/types"
)

// LoadConfig reads a YAML document into out.
func LoadConfig(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// LoadRunFile reads and schema-checks a run file. The credential is never
// read from the file; callers fill it in and call Validate.
func LoadRunFile(path string) (types.RunConfiguration, error) {
	var doc any
	if err := LoadConfig(path, &doc); err != nil {
		return types.RunConfiguration{}, fmt.Errorf("%w: %v", types.ErrInvalidConfig, err)
	}
	if doc == nil {
		return types.RunConfiguration{}, fmt.Errorf("%w: %s is empty", types.ErrInvalidConfig, path)
	}
	problems, err := schema.Validate(schema.Run, doc)
	if err != nil {
		return types.RunConfiguration{}, err
	}
	if len(problems) > 0 {
		return types.RunConfiguration{}, fmt.Errorf("%w: %s: %s", types.ErrInvalidConfig, path, strings.Join(problems, "; "))
	}

	var cfg types.RunConfiguration
	if err := LoadConfig(path, &cfg); err != nil {
		return types.RunConfiguration{}, fmt.Errorf("%w: %v", types.ErrInvalidConfig, err)
	}
	return cfg.Normalize(), nil
}

// DefaultRunFile is the template written by init.
func DefaultRunFile() types.RunConfiguration {
	temp := 0.7
	return types.RunConfiguration{
		Table:        "Articles",
		Mode:         types.ModeSeparated,
		SystemPrompt: "You are a helpful assistant. Answer concisely.",
		InputFields:  []string{"Question"},
		Provider:     types.ProviderOpenRouter,
		Model:        "openai/gpt-4o-mini",
		ResultFields: []string{"Answer"},
		Temperature:  &temp,
	}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
			if name == "-" {
				return strings.ToLower(f.Name)
			}
			if name == "" {
				return f.Name
			}
			return name
		})
	})
	return validate
}

// Validate checks a normalized run configuration. Every problem is reported
// in one ErrInvalidConfig error.
func Validate(cfg types.RunConfiguration) error {
	var problems []string
	if err := structValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", types.ErrInvalidConfig, err)
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}
	if cfg.Mode == types.ModeSeparated && len(cfg.InputFields) == 0 {
		problems = append(problems, "input_fields: at least one input field is required in separated mode")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := fe.Field()
	if ns := fe.Namespace(); strings.Contains(ns, "[") {
		field = ns[strings.Index(ns, ".")+1:]
	}
	switch fe.Tag() {
	case "required", "required_if":
		if field == "credential" {
			return "credential: an API key is required"
		}
		return field + ": is required"
	case "oneof":
		return fmt.Sprintf("%s: must be one of [%s]", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s: needs at least %s entries", field, fe.Param())
	case "gte", "lte":
		return fmt.Sprintf("%s: must be %s %s", field, map[string]string{"gte": ">=", "lte": "<="}[fe.Tag()], fe.Param())
	default:
		return fmt.Sprintf("%s: failed %s", field, fe.Tag())
	}
}
