package ops

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hpungsan/tcap/internal/errors"
)

// validate is the shared validator for operation inputs.
// Field names in messages come from json tags.
var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
}

// ValidateStruct checks v's validate tags and converts the first failure
// into a VALIDATION error.
func ValidateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return errors.NewValidation(err.Error())
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return errors.NewValidation(fmt.Sprintf("%s is required", fe.Field()))
	case "max":
		return errors.NewValidation(fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
	case "min", "gte":
		return errors.NewValidation(fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param()))
	case "oneof":
		return errors.NewValidation(fmt.Sprintf("%s must be one of: %s", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", ")))
	default:
		return errors.NewValidation(fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag()))
	}
}
