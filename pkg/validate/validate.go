// Package validate wraps go-playground/validator with the project's enum rules and error taxonomy.
package validate

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/aura-events/backend/internal/models"
	"github.com/aura-events/backend/pkg/apperrors"
)

// Validator validates request and input structs.
type Validator struct {
	validate *validator.Validate
}

// New creates a Validator that reports json field names and knows the payment enums.
func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	mustRegister(v, "payment_method", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == "" || models.PaymentMethod(s).Valid()
	})
	mustRegister(v, "entity_kind", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == "" || models.ParseEntityKind(s) != models.EntityNone
	})
	return &Validator{validate: v}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register validation %q: %v", tag, err))
	}
}

// Struct validates s. Field failures come back as an apperrors validation error listing every field.
func (v *Validator) Struct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperrors.Wrap(err, apperrors.KindValidation, "VALIDATION_FAILED", "invalid input")
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field(), message(fe)))
	}
	sort.Strings(msgs)
	return apperrors.Validation(strings.Join(msgs, "; "))
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gtefield":
		return "must not be before " + fe.Param()
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "payment_method":
		return "unknown payment method"
	case "entity_kind":
		return "unknown entity type"
	}
	return fmt.Sprintf("failed on %q", fe.Tag())
}
