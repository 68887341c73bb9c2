package validation

import (
	"fmt"
	"strings"
)

// ValidateCurrency validates an ISO 4217 style currency code.
func ValidateCurrency(code string) error {
	if code == "" {
		return fmt.Errorf("currency cannot be empty")
	}

	if len(code) != 3 {
		return fmt.Errorf("invalid currency length: expected 3 characters, got %d", len(code))
	}

	for _, r := range code {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return fmt.Errorf("invalid currency code %q: must be alphabetic", code)
		}
	}

	return nil
}

// NormalizeCurrency converts a currency code to uppercase.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidateAndNormalizeCurrency validates a currency code and returns its
// normalized form.
func ValidateAndNormalizeCurrency(code string) (string, error) {
	if err := ValidateCurrency(code); err != nil {
		return "", err
	}
	return NormalizeCurrency(code), nil
}

// ValidateCycle validates a billing cycle name. Recognised cycles are
// monthly, yearly, weekly and other.
func ValidateCycle(cycle string) error {
	if cycle == "" {
		return fmt.Errorf("billing cycle cannot be empty")
	}

	switch strings.ToLower(strings.TrimSpace(cycle)) {
	case "monthly", "yearly", "weekly", "other":
		return nil
	}
	return fmt.Errorf("unrecognised billing cycle %q: expected monthly, yearly, weekly or other", cycle)
}
