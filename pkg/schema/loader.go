package schema

import (
	"embed"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed v1/*.schema.json
var files embed.FS

const (
	Messages = "messages"
	Run      = "run"
)

// Validate checks doc against the embedded schema with the given name and
// returns one string per violation.
func Validate(name string, doc any) ([]string, error) {
	raw, err := files.ReadFile("v1/" + name + ".schema.json")
	if err != nil {
		return nil, fmt.Errorf("load schema %s: %w", name, err)
	}
	schemaLoader := gojsonschema.NewBytesLoader(raw)
	docLoader := gojsonschema.NewGoLoader(doc)
	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return nil, fmt.Errorf("validate %s: %w", name, err)
	}
	if result.Valid() {
		return nil, nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		errs = append(errs, e.String())
	}
	return errs, nil
}
