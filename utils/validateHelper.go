package utils

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// GetValidator returns the process-wide validator instance.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// ProcessValidationErrors maps field -> failed tag.
func ProcessValidationErrors(err error) map[string]string {
	errorResponse := make(map[string]string)
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return errorResponse
	}
	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}
	return errorResponse
}

// ValidateStruct runs struct tags and returns a validation *Error listing the failing fields.
func ValidateStruct(op string, v interface{}) error {
	err := GetValidator().Struct(v)
	if err == nil {
		return nil
	}
	fields := ProcessValidationErrors(err)
	if len(fields) == 0 {
		return WrapError(ErrorKindValidation, op, err)
	}
	return ValidationError(op, "invalid fields: %s", formatFieldErrors(fields))
}

// ValidateVar checks a single value against a validator tag such as "required,max=64".
func ValidateVar(op, field string, value interface{}, rules string) error {
	if rules == "" {
		return nil
	}
	if err := GetValidator().Var(value, rules); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
			return ValidationError(op, "field %s fails rule %s", field, validationErrors[0].Tag())
		}
		return WrapError(ErrorKindValidation, op, err)
	}
	return nil
}

func formatFieldErrors(fields map[string]string) string {
	parts := make([]string, 0, len(fields))
	for field, tag := range fields {
		parts = append(parts, field+"("+tag+")")
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}
