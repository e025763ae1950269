package bookings

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var (
	htmlTag        = regexp.MustCompile(`<[^>]*>`)
	unsafePatterns = regexp.MustCompile(`javascript:|onclick=|onerror=|onload=|eval\(|document\.|window\.`)
	personName     = regexp.MustCompile(`^[A-Za-z\s\-\.']+$`)
	phoneChars     = regexp.MustCompile(`^[0-9\s\+\-\(\)]*$`)
	nonDigits      = regexp.MustCompile(`[^0-9]`)

	registerOnce sync.Once
	registerErr  error
)

// CustomerDetails are the contact fields shared by the booking form and checkout.
type CustomerDetails struct {
	FullName string `json:"full_name" binding:"required,min=2,max=100,personname,nohtml"`
	Email    string `json:"email" binding:"required,email,max=254,nohtml"`
	Phone    string `json:"phone" binding:"omitempty,max=20,phone"`
	Message  string `json:"message" binding:"omitempty,max=1000,nohtml"`
}

// Normalize trims surrounding whitespace from every field.
func (d *CustomerDetails) Normalize() {
	d.FullName = strings.TrimSpace(d.FullName)
	d.Email = strings.TrimSpace(d.Email)
	d.Phone = strings.TrimSpace(d.Phone)
	d.Message = strings.TrimSpace(d.Message)
}

// RegisterValidators installs the custom tags (nohtml, personname, phone) on gin's validator
// and reports fields by their JSON names. Safe to call more than once.
func RegisterValidators() error {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			registerErr = errors.New("gin validator engine is not go-playground/validator")
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})
		for tag, fn := range map[string]validator.Func{
			"nohtml":     func(fl validator.FieldLevel) bool { return NoHTML(fl.Field().String()) },
			"personname": func(fl validator.FieldLevel) bool { return personName.MatchString(fl.Field().String()) },
			"phone":      func(fl validator.FieldLevel) bool { return ValidPhone(fl.Field().String()) },
		} {
			if err := v.RegisterValidation(tag, fn); err != nil {
				registerErr = fmt.Errorf("register %s: %w", tag, err)
				return
			}
		}
	})
	return registerErr
}

// NoHTML reports whether s is free of markup and script-like content.
func NoHTML(s string) bool {
	return !htmlTag.MatchString(s) && !unsafePatterns.MatchString(strings.ToLower(s))
}

// ValidPhone accepts digits, spaces and +-() with 6 to 15 digits in total. Empty is valid.
func ValidPhone(s string) bool {
	if s == "" {
		return true
	}
	if !phoneChars.MatchString(s) {
		return false
	}
	n := len(nonDigits.ReplaceAllString(s, ""))
	return n >= 6 && n <= 15
}

// SanitizeSubject strips characters that could inject email headers and caps the length at 200.
func SanitizeSubject(s string) string {
	s = strings.NewReplacer("\r", " ", "\n", " ", "\x00", " ").Replace(strings.TrimSpace(s))
	if r := []rune(s); len(r) > 200 {
		s = string(r[:200])
	}
	return s
}

// FieldErrors turns a binding error into a field -> message map.
func FieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"body": "invalid request body"}
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = fieldMessage(fe)
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "email":
		return "Enter a valid email address."
	case "min":
		return fmt.Sprintf("Must be at least %s characters long.", fe.Param())
	case "max":
		return fmt.Sprintf("Must be at most %s characters long.", fe.Param())
	case "nohtml":
		return "HTML tags and script content are not allowed."
	case "personname":
		return "Name can only contain letters, spaces, hyphens, periods, and apostrophes."
	case "phone":
		return "Phone number must use digits, spaces, +, -, ( or ) and contain 6 to 15 digits."
	}
	return "Invalid value."
}
