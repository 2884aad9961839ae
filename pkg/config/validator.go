package config

import (
	"github.com/go-playground/validator/v10"
)

var recordFormats = map[string]struct{}{
	"binary": {},
	"yaml":   {},
}

// RegisterCustomValidators registers custom validation functions
func RegisterCustomValidators(v *validator.Validate) error {
	return v.RegisterValidation("record_format", validateRecordFormat)
}

func validateRecordFormat(fl validator.FieldLevel) bool {
	_, ok := recordFormats[fl.Field().String()]
	return ok
}
