package middleware

import (
	"reflect"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/anamnesis-api/internal/fieldtype"
	"github.com/jwalitptl/anamnesis-api/internal/model"
)

// ValidationConfig represents the custom binding tags installed on gin's validator
type ValidationConfig struct {
	CustomValidators map[string]validator.Func
}

func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		CustomValidators: map[string]validator.Func{
			"fieldtype": func(fl validator.FieldLevel) bool {
				return fieldtype.Valid(model.FieldType(fl.Field().String()))
			},
		},
	}
}

// RegisterValidators installs the custom tags and makes validation errors
// report fields by their json name.
func RegisterValidators(config ValidationConfig) error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}

	for tag, fn := range config.CustomValidators {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return err
		}
	}

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return nil
}
