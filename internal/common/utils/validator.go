// internal/common/utils/validator.go
// Input validation using struct tags

package utils

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Global validator instance
var validate = validator.New()

// FieldError is a single field-level validation issue
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates field-level issues for one payload
type ValidationError struct {
	Issues []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		msgs = append(msgs, issue.Message)
	}
	return strings.Join(msgs, ", ")
}

// ValidateStruct validates a struct based on its tags.
// Returns a *ValidationError carrying field-level issues on failure.
func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	verr, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	issues := make([]FieldError, 0, len(verr))
	for _, fe := range verr {
		issues = append(issues, FieldError{
			Field:   fe.Field(),
			Message: formatFieldError(fe),
		})
	}
	return &ValidationError{Issues: issues}
}

// formatFieldError converts validator errors to human-readable messages
func formatFieldError(fe validator.FieldError) string {
	field := fe.Field()
	tag := fe.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "len":
		return fmt.Sprintf("%s must be exactly %s characters", field, fe.Param())
	case "hexadecimal":
		return fmt.Sprintf("%s must be a hexadecimal id", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
