// Package validation wraps go-playground/validator with the conventions the
// service uses: json field names, decimal support and flat field errors.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (f FieldError) Error() string {
	return fmt.Sprintf("%s: %s", f.Field, f.Message)
}

// Errors is returned when a struct fails validation.
type Errors []FieldError

func (v Errors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}
	messages := make([]string, 0, len(v))
	for _, err := range v {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// First returns the message of the first field error.
func (v Errors) First() string {
	if len(v) == 0 {
		return "validation failed"
	}
	return v[0].Message
}

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	v.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})
	return &Validator{validate: v}
}

func decimalValue(field reflect.Value) any {
	d, ok := field.Interface().(decimal.Decimal)
	if !ok {
		return nil
	}
	f, _ := d.Float64()
	return f
}

// Struct validates s and translates failures into Errors.
func (v *Validator) Struct(s any) error {
	if err := v.validate.Struct(s); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			return translate(validationErrs)
		}
		return err
	}
	return nil
}

func translate(errs validator.ValidationErrors) Errors {
	out := make(Errors, 0, len(errs))
	for _, err := range errs {
		field := err.Field()
		var message string
		switch err.Tag() {
		case "required", "required_without":
			message = fmt.Sprintf("%s is required", field)
		case "email":
			message = fmt.Sprintf("%s must be a valid email address", field)
		case "datetime":
			message = fmt.Sprintf("%s must match the format %s", field, err.Param())
		case "gt":
			message = fmt.Sprintf("%s must be greater than %s", field, err.Param())
		case "gte", "min":
			message = fmt.Sprintf("%s must be at least %s", field, err.Param())
		case "lte", "max":
			message = fmt.Sprintf("%s must be at most %s", field, err.Param())
		case "oneof":
			message = fmt.Sprintf("%s must be one of: %s", field, err.Param())
		default:
			message = fmt.Sprintf("%s is invalid", field)
		}
		out = append(out, FieldError{Field: field, Code: err.Tag(), Message: message})
	}
	return out
}
