package rbac

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// permname accepts dotted resource.action names.
	if err := v.RegisterValidation("permname", func(fl validator.FieldLevel) bool {
		_, _, ok := SplitPermissionName(fl.Field().String())
		return ok
	}); err != nil {
		panic(fmt.Sprintf("rbac: register permname validator: %v", err))
	}
	return v
}

// validateStruct runs tag validation and folds failures into ErrValidation.
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(fields, ", "))
	}
	return fmt.Errorf("%w: %v", ErrValidation, err)
}
