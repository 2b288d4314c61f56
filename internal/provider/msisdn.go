package provider

import (
	"fmt"
	"strings"

	"payment-service/internal/domain"
)

// Ghana network prefixes, keyed by the two digits after the leading zero.
// Source: NCA national numbering plan as used by the campus UI.
var networkPrefixes = map[domain.PaymentProvider][]string{
	domain.ProviderMTN:      {"24", "53", "54", "55", "59"},
	domain.ProviderVodafone: {"20", "50"},
	domain.ProviderAirtel:   {"25", "26", "27", "56", "57"},
	domain.ProviderTelecel:  {"20", "50"},
}

// NormalizeMSISDN validates a Ghanaian phone number for the given provider's
// network and returns it in international form (233XXXXXXXXX). Accepted
// inputs: 0XXXXXXXXX, 233XXXXXXXXX, +233XXXXXXXXX, with optional spaces or
// dashes.
func NormalizeMSISDN(p domain.PaymentProvider, raw string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	var national string
	switch {
	case strings.HasPrefix(cleaned, "+233"):
		national = cleaned[4:]
	case strings.HasPrefix(cleaned, "233"):
		national = cleaned[3:]
	case strings.HasPrefix(cleaned, "0"):
		national = cleaned[1:]
	default:
		return "", fmt.Errorf("%w: phone number must start with 0 or 233", domain.ErrValidation)
	}

	if len(national) != 9 || !digitsOnly(national) {
		return "", fmt.Errorf("%w: phone number must have 9 digits after the prefix", domain.ErrValidation)
	}

	for _, prefix := range networkPrefixes[p] {
		if strings.HasPrefix(national, prefix) {
			return "233" + national, nil
		}
	}
	return "", fmt.Errorf("%w: phone number is not on the %s network", domain.ErrValidation, p)
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
