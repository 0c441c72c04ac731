package conversation

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// newValidator builds the struct validator used on facade inputs, reporting
// field names by their json tags.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
