package handlers

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/domain"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
}

// validateRequest validates a request DTO and returns a validation_error
// whose meta maps each offending field to a short reason.
func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.ErrValidation(err.Error())
	}

	meta := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		meta[fe.Field()] = reason(fe)
	}
	return domain.ErrValidationMeta("invalid request body", meta)
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "uuid":
		return "must be uuid"
	case "gtfield":
		return "must be after from"
	default:
		return "failed " + fe.Tag() + " check"
	}
}
