package server

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"
)

const (
	maxNameLength  = 20
	maxTitleLength = 140
)

var (
	validatorOnce sync.Once
	payloads      *validator.Validate
)

func payloadValidator() *validator.Validate {
	validatorOnce.Do(func() {
		payloads = validator.New(validator.WithRequiredStructEnabled())
		_ = payloads.RegisterValidation("name", func(fl validator.FieldLevel) bool {
			_, err := validateName(fl.Field().String())
			return err == nil
		})
		_ = payloads.RegisterValidation("title", func(fl validator.FieldLevel) bool {
			_, err := validateTitle(fl.Field().String())
			return err == nil
		})
	})
	return payloads
}

func validatePayload(payload any) error {
	if err := payloadValidator().Struct(payload); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid %s", strings.ToLower(verrs[0].Field()))
		}
		return err
	}
	return nil
}

func validateName(name string) (string, error) {
	return validateText("name", name, maxNameLength)
}

func validateTitle(title string) (string, error) {
	return validateText("title", title, maxTitleLength)
}

func validateText(label, text string, maxLen int) (string, error) {
	trimmed := normalizeText(text)
	if trimmed == "" {
		return "", fmt.Errorf("%s is required", label)
	}
	if len([]rune(trimmed)) > maxLen {
		return "", fmt.Errorf("%s must be %d characters or fewer", label, maxLen)
	}
	if !isSafeText(trimmed) {
		return "", fmt.Errorf("%s contains unsupported characters", label)
	}
	return trimmed, nil
}

func normalizeText(text string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	return strings.Join(fields, " ")
}

// Titles are typed in any language; only control and format runes are refused.
func isSafeText(text string) bool {
	for _, r := range text {
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			return false
		}
		if !unicode.IsPrint(r) && r != ' ' {
			return false
		}
	}
	return true
}
