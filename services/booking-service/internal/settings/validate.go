package settings

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/timewindow"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/tz"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = validate.RegisterValidation("clock", validateClock)
	_ = validate.RegisterValidation("wire_date", validateWireDate)
	_ = validate.RegisterValidation("iana_zone", validateZone)
}

func validateClock(fl validator.FieldLevel) bool {
	_, err := timewindow.ParseClock(fl.Field().String())
	return err == nil
}

func validateWireDate(fl validator.FieldLevel) bool {
	_, err := ParseWireDate(fl.Field().String())
	return err == nil
}

func validateZone(fl validator.FieldLevel) bool {
	return tz.IsValidZone(fl.Field().String())
}

// validateStruct runs tag validation and folds field errors into one ErrInvalidPayload.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(msgs, ", "))
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return field + " must be one of: " + strings.Join(strings.Fields(fe.Param()), ", ")
	case "clock":
		return field + " must be HH:MM"
	case "wire_date":
		return field + " must be DD-MMM-YYYY"
	case "iana_zone":
		return field + " is not a known timezone"
	case "gte", "lte", "min", "max":
		return field + " must be " + fe.Tag() + " " + fe.Param()
	}
	return field + " is invalid"
}
