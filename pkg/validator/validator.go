package validator

import (
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	// Validate is a shared instance: the validator caches struct metadata,
	// so one instance per process is the cheap way to use it.
	Validate *validator.Validate
)

func init() {
	Validate = validator.New()

	_ = Validate.RegisterValidation("rfc3339", validateRFC3339)
	_ = Validate.RegisterValidation("rfc3339_optional", validateRFC3339Optional)
}

// validateRFC3339 checks that the string is a valid RFC3339 timestamp.
func validateRFC3339(fl validator.FieldLevel) bool {
	dateStr := fl.Field().String()
	if dateStr == "" {
		return false
	}
	_, err := time.Parse(time.RFC3339, dateStr)
	return err == nil
}

// validateRFC3339Optional allows the empty string.
func validateRFC3339Optional(fl validator.FieldLevel) bool {
	dateStr := fl.Field().String()
	if dateStr == "" {
		return true
	}
	_, err := time.Parse(time.RFC3339, dateStr)
	return err == nil
}

// FirstFailedField extracts the first offending field name from a
// validator error, for error messages that point somewhere useful.
func FirstFailedField(err error) string {
	if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
		return errs[0].Field()
	}
	return "unknown"
}
