// Package validate wraps go-playground/validator with a process-wide instance
// and flattens its errors into stable (field, rule) pairs that domain packages
// convert into their own typed validation errors.
package validate

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Violation is a single failed rule on a field.
type Violation struct {
	Field string
	Rule  string
	Param string
}

var (
	once sync.Once
	v    *validator.Validate
)

func instance() *validator.Validate {
	once.Do(func() {
		v = validator.New(validator.WithRequiredStructEnabled())
		// Report json names so errors line up with what transports expose.
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
		_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
			return strings.TrimSpace(fl.Field().String()) != ""
		})
	})
	return v
}

// Struct validates s and returns its violations (nil when valid).
// A non-validation failure (e.g. s is not a struct) is returned as a single
// violation on field "" with rule "invalid".
func Struct(s any) []Violation {
	err := instance().Struct(s)
	if err == nil {
		return nil
	}

	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return []Violation{{Rule: "invalid"}}
	}

	out := make([]Violation, 0, len(ves))
	for _, fe := range ves {
		out = append(out, Violation{
			Field: fe.Field(),
			Rule:  fe.Tag(),
			Param: fe.Param(),
		})
	}
	return out
}

// Var validates a single value against tag.
func Var(value any, tag string) bool {
	return instance().Var(value, tag) == nil
}
