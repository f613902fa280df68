package auth

import (
	"regexp"
	"strings"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 128
	maxNameLength     = 100
)

var (
	emailPattern     = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	resetCodePattern = regexp.MustCompile(`^[0-9]{6}$`)
)

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every problem found in a request body.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

type validator struct {
	fields []FieldError
}

func (v *validator) add(field, msg string) {
	v.fields = append(v.fields, FieldError{Field: field, Message: msg})
}

func (v *validator) email(field, label, value string) {
	switch {
	case strings.TrimSpace(value) == "":
		v.add(field, label+" is required")
	case !IsValidEmail(strings.TrimSpace(value)):
		v.add(field, label+" must be a valid email address")
	}
}

func (v *validator) password(field, value string) {
	switch {
	case len(value) < minPasswordLength:
		v.add(field, "Password must be at least 8 characters long")
	case len(value) > maxPasswordLength:
		v.add(field, "Password must be at most 128 characters long")
	}
}

func (v *validator) resetCode(field, value string) {
	if !resetCodePattern.MatchString(value) {
		v.add(field, "Code must be exactly 6 digits")
	}
}

func (v *validator) role(field string, value Role) {
	if value != RoleViewer && value != RoleDeveloper {
		v.add(field, "Role must be viewer or developer")
	}
}

func (v *validator) name(field, value string, required bool) {
	value = strings.TrimSpace(value)
	switch {
	case value == "" && required:
		v.add(field, "Name is required")
	case len(value) > maxNameLength:
		v.add(field, "Name must be at most 100 characters long")
	}
}

func (v *validator) err() error {
	if len(v.fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: v.fields}
}

// IsValidEmail performs a shape check on an e-mail address.
func IsValidEmail(email string) bool {
	return len(email) <= 254 && emailPattern.MatchString(email)
}

// NormalizeEmail trims and lower-cases an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
