// Package validation checks decoded request payloads and reports field-level problems.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MaxPasswordBytes is the bcrypt input limit.
const MaxPasswordBytes = 72

// FieldError is a single problem with one input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is a recoverable input problem; callers resubmit corrected input.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Field builds an Error for a single field.
func Field(field, message string) *Error {
	return &Error{Fields: []FieldError{{Field: field, Message: message}}}
}

// Validator wraps go-playground/validator with JSON field names.
type Validator struct {
	v *validator.Validate
}

// New creates a validator configured for request payloads.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	_ = v.RegisterValidation("bcryptmax", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= MaxPasswordBytes
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})

	return &Validator{v: v}
}

// Validate validates a struct and returns *Error on failure.
func (v *Validator) Validate(s any) error {
	if err := v.v.Struct(s); err != nil {
		return v.formatError(err)
	}
	return nil
}

func (v *Validator) formatError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	out := &Error{Fields: make([]FieldError, 0, len(validationErrs))}
	for _, e := range validationErrs {
		out.Fields = append(out.Fields, FieldError{
			Field:   e.Field(),
			Message: friendlyMessage(e),
		})
	}
	return out
}

// Merge appends the fields of other validation errors; non-validation errors are returned as is.
func Merge(errs ...error) error {
	var merged *Error
	for _, err := range errs {
		if err == nil {
			continue
		}
		var ve *Error
		if !errors.As(err, &ve) {
			return err
		}
		if merged == nil {
			merged = &Error{}
		}
		merged.Fields = append(merged.Fields, ve.Fields...)
	}
	if merged == nil {
		return nil
	}
	return merged
}

func friendlyMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "notblank":
		return "must not be empty"
	case "email":
		return "must be a valid email address"
	case "min":
		if e.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at least %s items", e.Param())
		}
		return fmt.Sprintf("must be at least %s characters", e.Param())
	case "max":
		return fmt.Sprintf("must not exceed %s characters", e.Param())
	case "bcryptmax":
		return fmt.Sprintf("must not exceed %d bytes in UTF-8", MaxPasswordBytes)
	case "oneof":
		return "must be one of: " + e.Param()
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "lte":
		return "must be less than or equal to " + e.Param()
	default:
		return "is invalid"
	}
}
