package models

import (
	"github.com/go-playground/validator/v10"
)

type enumerated interface {
	Valid() bool
}

// NewValidator returns a validator aware of the closed enumerations of this
// package through the "enum" tag.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	_ = v.RegisterValidation("enum", func(fl validator.FieldLevel) bool {
		e, ok := fl.Field().Interface().(enumerated)
		if !ok {
			return false
		}

		return e.Valid()
	}, true)

	return v
}
