// Package validation adapts go-playground/validator to echo request binding.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/dukerupert/hearth"
	"github.com/go-playground/validator/v10"
)

// Validator implements echo.Validator.
//
// Usage in the HTTP server:
//
//	e.Validator = validation.NewValidator()
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a validator that reports fields by their JSON names.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	if err := v.RegisterValidation("ownerkind", validateOwnerKind); err != nil {
		panic(fmt.Sprintf("validation: register ownerkind: %v", err))
	}

	return &Validator{validate: v}
}

// Validate validates a struct using its validation tags. Failures are
// returned as an EINVALID error carrying one message per field.
func (v *Validator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		var validationErrors validator.ValidationErrors
		if !errors.As(err, &validationErrors) {
			return err
		}

		fields := FormatValidationErrors(validationErrors)
		names := make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}
		sort.Strings(names)

		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s: %s", name, fields[name]))
		}
		return &hearth.Error{
			Code:    hearth.EINVALID,
			Message: strings.Join(parts, "; "),
			Fields:  fields,
		}
	}
	return nil
}

// ReorderRequest is the desired display order of an owner's images.
type ReorderRequest struct {
	Keys []string `json:"keys" validate:"required,min=1,max=100,dive,required"`
}

// DeleteImagesRequest lists the original keys to remove from an owner.
type DeleteImagesRequest struct {
	Keys []string `json:"keys" validate:"required,min=1,max=100,dive,required"`
}

// PromoteRequest names the owner staged images are promoted to.
type PromoteRequest struct {
	OwnerKind string `json:"ownerKind" validate:"required,ownerkind"`
	OwnerID   string `json:"ownerId" validate:"required,max=100"`
}

// SignedURLRequest asks for a time-limited URL of one key.
type SignedURLRequest struct {
	Key     string `query:"key" json:"key" validate:"required"`
	Minutes int    `query:"minutes" json:"minutes" validate:"gte=0,lte=10080"`
}

func validateOwnerKind(fl validator.FieldLevel) bool {
	_, err := hearth.ParseOwnerKind(fl.Field().String())
	return err == nil
}

// FormatValidationErrors converts validator errors to field -> message.
func FormatValidationErrors(err error) map[string]string {
	errs := make(map[string]string)

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		errs["_error"] = err.Error()
		return errs
	}

	for _, fieldErr := range validationErrors {
		fieldName := strings.ToLower(fieldErr.Field())

		switch fieldErr.Tag() {
		case "required":
			errs[fieldName] = "is required"
		case "min":
			if fieldErr.Kind() == reflect.String {
				errs[fieldName] = fmt.Sprintf("must be at least %s characters", fieldErr.Param())
			} else if fieldErr.Kind() == reflect.Slice {
				errs[fieldName] = fmt.Sprintf("must contain at least %s items", fieldErr.Param())
			} else {
				errs[fieldName] = fmt.Sprintf("must be at least %s", fieldErr.Param())
			}
		case "max":
			if fieldErr.Kind() == reflect.String {
				errs[fieldName] = fmt.Sprintf("must be no more than %s characters", fieldErr.Param())
			} else if fieldErr.Kind() == reflect.Slice {
				errs[fieldName] = fmt.Sprintf("must contain no more than %s items", fieldErr.Param())
			} else {
				errs[fieldName] = fmt.Sprintf("must be no more than %s", fieldErr.Param())
			}
		case "gte":
			errs[fieldName] = fmt.Sprintf("must be greater than or equal to %s", fieldErr.Param())
		case "lte":
			errs[fieldName] = fmt.Sprintf("must be less than or equal to %s", fieldErr.Param())
		case "ownerkind":
			kinds := make([]string, len(hearth.OwnerKinds))
			for i, k := range hearth.OwnerKinds {
				kinds[i] = string(k)
			}
			errs[fieldName] = "must be one of " + strings.Join(kinds, ", ")
		default:
			errs[fieldName] = fmt.Sprintf("failed %s validation", fieldErr.Tag())
		}
	}

	return errs
}
