package validator

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Common Regex Patterns
var (
	slugRegex      = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	phoneRegex     = regexp.MustCompile(`^\+[1-9]\d{1,14}$`) // E.164 standard roughly
	fieldNameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := validator.New()

	// Register Custom Validations
	_ = v.RegisterValidation("slug", validateSlug)
	_ = v.RegisterValidation("password_strong", validatePasswordStrong)
	_ = v.RegisterValidation("phone_e164", validatePhone)
	_ = v.RegisterValidation("field_name", validateFieldName)
	_ = v.RegisterValidation("message_id", validateMessageID)

	return &Validator{
		validate: v,
	}
}

// ValidateStruct validates a struct using tags
func (v *Validator) ValidateStruct(s interface{}) error {
	return v.validate.Struct(s)
}

// ValidateVar validates a single variable against a tag
func (v *Validator) ValidateVar(field interface{}, tag string) error {
	return v.validate.Var(field, tag)
}

// Custom Validation Functions

func validateSlug(fl validator.FieldLevel) bool {
	return slugRegex.MatchString(fl.Field().String())
}

func validatePhone(fl validator.FieldLevel) bool {
	return phoneRegex.MatchString(fl.Field().String())
}

// validateFieldName rejects report/field names that would make a message id
// ambiguous to parse back apart: a name containing the id separator (the
// "field_name=<sep>" tag param, ":" if omitted) would collide with the
// <source-id><sep><seq> format pkg/ids builds stream and message-id keys
// from.
func validateFieldName(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	if name == "" {
		return false
	}
	sep := fl.Param()
	if sep == "" {
		sep = ":"
	}
	if strings.Contains(name, sep) {
		return false
	}
	return fieldNameRegex.MatchString(name)
}

// validateMessageID checks that a string is a well-formed
// <source-id><sep><seq> message id, the identifier every record carries as
// it threads through a report's sub-streams. The separator defaults to ":"
// and can be overridden via the "message_id=<sep>" tag param to match a
// model built with model.New(sep).
func validateMessageID(fl validator.FieldLevel) bool {
	sep := fl.Param()
	if sep == "" {
		sep = ":"
	}
	raw := fl.Field().String()
	idx := strings.LastIndex(raw, sep)
	if idx <= 0 || idx == len(raw)-len(sep) {
		return false
	}
	for _, r := range raw[idx+len(sep):] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func validatePasswordStrong(fl validator.FieldLevel) bool {
	password := fl.Field().String()
	// Length 8+
	if len(password) < 8 {
		return false
	}
	// Needs an upper-case letter, a lower-case letter, a digit and a special character.
	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasDigit = true
		default:
			hasSpecial = true
		}
	}
	return hasUpper && hasLower && hasDigit && hasSpecial
}
