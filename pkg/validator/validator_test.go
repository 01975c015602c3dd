package validator

import (
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
)

type prefetchPayload struct {
	ReachIDs []string `json:"reach_ids" validate:"required,min=1,dive,reach_id"`
	Timeout  int      `json:"timeout" validate:"gte=0"`
}

type settings struct {
	Directory string `mapstructure:"directory" validate:"required"`
}

func TestValidateStructSuccess(t *testing.T) {
	payload := prefetchPayload{
		ReachIDs: []string{"23021904", "reach-42"},
		Timeout:  30,
	}

	if err := ValidateStruct(payload); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateStructFailures(t *testing.T) {
	payload := prefetchPayload{
		ReachIDs: []string{"ok", "../etc/passwd"},
		Timeout:  -1,
	}

	err := ValidateStruct(payload)
	if err == nil {
		t.Fatal("expected validation error")
	}

	vErrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}

	if len(vErrs) != 2 {
		t.Fatalf("expected 2 validation errors, got %d", len(vErrs))
	}

	foundReach := false
	for _, v := range vErrs {
		if v.Tag == "reach_id" {
			foundReach = true
		}
	}

	if !foundReach {
		t.Fatal("expected reach_id rule to be present in validation errors")
	}
}

func TestFieldNameFallsBackToMapstructureTag(t *testing.T) {
	err := ValidateStruct(settings{})
	vErrs, ok := err.(ValidationErrors)
	if !ok || len(vErrs) != 1 {
		t.Fatalf("expected one validation error, got %v", err)
	}
	if vErrs[0].Field != "directory" {
		t.Fatalf("expected field name from mapstructure tag, got %q", vErrs[0].Field)
	}
}

func TestIsReachID(t *testing.T) {
	cases := map[string]bool{
		"23021904":              true,
		"reach_1.a-b":           true,
		"":                      false,
		"-leading":              false,
		"has space":             false,
		"a/b":                   false,
		strings.Repeat("a", 65): false,
	}
	for input, want := range cases {
		if got := IsReachID(input); got != want {
			t.Fatalf("IsReachID(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestRegisterValidation(t *testing.T) {
	err := RegisterValidation("flowcache", func(fl validator.FieldLevel) bool {
		return fl.Field().String() == "flowcache"
	})
	if err != nil {
		t.Fatalf("register validation: %v", err)
	}

	type custom struct {
		Value string `validate:"flowcache"`
	}

	if err := ValidateStruct(custom{Value: "flowcache"}); err != nil {
		t.Fatalf("expected validation to pass, got %v", err)
	}
	if err := ValidateStruct(custom{Value: "other"}); err == nil {
		t.Fatal("expected validation to fail for non-matching value")
	}
}
