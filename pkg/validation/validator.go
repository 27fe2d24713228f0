package validation

import (
	"errors"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/platinummonkey/warden/pkg/errs"
)

var (
	validate *validator.Validate
	once     sync.Once

	codePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
)

// GetValidator returns the shared validator instance
func GetValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("code", func(fl validator.FieldLevel) bool {
			return codePattern.MatchString(fl.Field().String())
		})
	})
	return validate
}

// Struct validates v and returns a validation error naming every failed field
func Struct(op string, v interface{}) error {
	err := GetValidator().Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errs.Validation(op, "%v", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, "field '"+e.Field()+"' failed on the '"+e.Tag()+"' tag")
	}
	return errs.Validation(op, "%s", strings.Join(msgs, "; "))
}

// IsCode reports whether s is a well formed code
func IsCode(s string) bool {
	return codePattern.MatchString(s)
}
