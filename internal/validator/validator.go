package validator

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// New creates a validator instance with this service's custom rules
// registered, for consistent use across export-request decoding and tests.
func New() *validator.Validate {
	v := validator.New()

	// "notblank" rejects whitespace-only strings. Export requests dive into
	// operators/denominations filters with it: a caller that sends
	// {"operators": [" "]} meant to filter on something, so letting it
	// through as an empty-looking string would silently export nothing
	// instead of failing the request.
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		str, ok := fl.Field().Interface().(string)
		if !ok {
			return true // Not a string, let other validators handle it
		}
		return strings.TrimSpace(str) != ""
	})

	return v
}
