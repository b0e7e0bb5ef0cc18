package server

import (
	"reflect"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	paymentdomain "github.com/shortyai/creditdesk/internal/payment/domain"
	"github.com/shortyai/creditdesk/internal/tier"
)

var registerValidatorsOnce sync.Once

// registerValidators adds the request rules to gin's validator and makes
// field errors report json names.
func registerValidators() {
	registerValidatorsOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("tier", validateTier)
		_ = v.RegisterValidation("orderno", validateOrderNo)
		_ = v.RegisterValidation("role", validateRole)
	})
}

func validateTier(fl validator.FieldLevel) bool {
	_, err := tier.Parse(fl.Field().String())
	return err == nil
}

// validateOrderNo accepts the bank's order reference: printable, at most 64 runes.
func validateOrderNo(fl validator.FieldLevel) bool {
	value := strings.TrimSpace(fl.Field().String())
	if value == "" || utf8.RuneCountInString(value) > paymentdomain.MaxOrderNoLength {
		return false
	}
	for _, r := range value {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

func validateRole(fl validator.FieldLevel) bool {
	switch strings.ToLower(strings.TrimSpace(fl.Field().String())) {
	case "user", "admin":
		return true
	default:
		return false
	}
}

func jsonFieldName(fe validator.FieldError) string {
	if field := strings.TrimSpace(fe.Field()); field != "" {
		return field
	}
	return "request"
}

func validationTagMessage(field, tag string) string {
	switch tag {
	case "required":
		return field + " is required"
	case "tier":
		return "unknown tier"
	case "orderno":
		return "order number must be printable and at most 64 characters"
	case "role":
		return "role must be user or admin"
	default:
		return "invalid " + field
	}
}
