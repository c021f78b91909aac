package schema

import (
	"strings"
	"testing"
)

func TestValidateMessages(t *testing.T) {
	doc := []any{
		map[string]any{"role": "system", "content": "be brief"},
		map[string]any{"role": "user", "content": "hi"},
	}
	errs, err := Validate(Messages, doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) != 0 {
		t.Fatalf("schema should pass: %v", errs)
	}
}

func TestValidateMessages_MissingRole(t *testing.T) {
	doc := []any{map[string]any{"content": "hi"}}
	errs, err := Validate(Messages, doc)
	if err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if len(errs) == 0 {
		t.Fatal("expected schema violations")
	}
}

func TestValidateMessages_BlankContent(t *testing.T) {
	doc := []any{map[string]any{"role": "user", "content": "   "}}
	errs, err := Validate(Messages, doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) == 0 {
		t.Fatal("expected whitespace-only content to be rejected")
	}
}

func TestValidateMessages_Empty(t *testing.T) {
	errs, err := Validate(Messages, []any{})
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) == 0 {
		t.Fatal("expected empty list to be rejected")
	}
}

func TestValidateRun(t *testing.T) {
	doc := map[string]any{
		"table":         "tbl",
		"mode":          "separated",
		"provider":      "openrouter",
		"model":         "m",
		"result_fields": []any{"r"},
	}
	errs, err := Validate(Run, doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) != 0 {
		t.Fatalf("schema should pass: %v", errs)
	}

	doc["mode"] = "chat"
	errs, err = Validate(Run, doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) == 0 {
		t.Fatal("expected violation for unknown mode")
	}
}

func TestValidateUnknownSchema(t *testing.T) {
	_, err := Validate("missing", map[string]any{})
	if err == nil {
		t.Fatal("expected schema loader error")
	}
	if !strings.Contains(err.Error(), "load schema") {
		t.Fatalf("unexpected error: %v", err)
	}
}
