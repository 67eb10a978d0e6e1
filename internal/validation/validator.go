// Package validation provides request payload validation for the
// Roost API. It uses go-playground/validator for struct-level
// validation, with custom tag validators for tenant names and
// instance versions.
package validation

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/roost-sh/roost/internal/instance"
)

// ValidationError represents a single validation error with field-level details.
type ValidationError struct {
	// Field is the name of the field that failed validation
	Field string `json:"field"`

	// Message describes why the validation failed
	Message string `json:"message"`

	// Value is the invalid value that caused the error (optional)
	Value interface{} `json:"value,omitempty"`
}

// ValidationResult represents the complete result of a validation operation.
type ValidationResult struct {
	// Valid is true if validation passed, false otherwise
	Valid bool `json:"valid"`

	// Errors contains all validation errors found (empty if Valid is true)
	Errors []ValidationError `json:"errors,omitempty"`
}

// Summary joins all error messages into one line for error responses.
func (r ValidationResult) Summary() string {
	parts := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		parts = append(parts, fmt.Sprintf("%s %s", e.Field, e.Message))
	}
	return strings.Join(parts, "; ")
}

// Validator validates API request payloads.
type Validator struct {
	structValidator *validator.Validate
}

// New creates a Validator with the roost custom tags registered:
//
//   - tenant: a valid instance name (case-insensitive, normalized later)
//   - instance_version: "latest" or a numeric semantic version
func New() *Validator {
	v := validator.New()

	// Registration only fails for empty tag names.
	_ = v.RegisterValidation("tenant", func(fl validator.FieldLevel) bool {
		_, err := instance.ValidateName(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("instance_version", func(fl validator.FieldLevel) bool {
		_, err := instance.ValidateVersion(fl.Field().String())
		return err == nil
	})

	return &Validator{structValidator: v}
}

// ValidateStruct checks a request struct against its validate tags.
func (v *Validator) ValidateStruct(s interface{}) ValidationResult {
	err := v.structValidator.Struct(s)
	if err == nil {
		return ValidationResult{Valid: true}
	}

	result := ValidationResult{Valid: false}
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			result.Errors = append(result.Errors, ValidationError{
				Field:   strings.ToLower(fe.Field()),
				Message: messageFor(fe),
				Value:   fe.Value(),
			})
		}
		return result
	}

	result.Errors = append(result.Errors, ValidationError{Message: err.Error()})
	return result
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "tenant":
		return "must be 2-32 characters of letters, digits or inner hyphens"
	case "instance_version":
		return "must be 'latest' or a numeric version like 1.64.0"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
