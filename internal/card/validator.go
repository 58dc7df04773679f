// Package card validates card input in two stages: a pure format check and a
// vault lookup against encrypted card records.
package card

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/josh-kwaku/sep-payments/internal/domain"
	"github.com/josh-kwaku/sep-payments/internal/security"
)

var (
	panPattern    = regexp.MustCompile(`^\d{13,19}$`)
	expiryPattern = regexp.MustCompile(`^(\d{2})/(\d{2})$`)
	cvvPattern    = regexp.MustCompile(`^\d{3,4}$`)
)

type Data struct {
	PAN        string
	HolderName string
	Expiry     string
	CVV        string
}

// ValidateFormat runs the checks that need no storage access.
func ValidateFormat(d Data, now time.Time) error {
	if !panPattern.MatchString(d.PAN) || !security.Luhn(d.PAN) {
		return fmt.Errorf("ValidateFormat: card number: %w", domain.ErrInvalidCardData)
	}

	year, month, err := ParseExpiry(d.Expiry)
	if err != nil {
		return fmt.Errorf("ValidateFormat: %w", err)
	}
	if IsExpired(year, month, now) {
		return fmt.Errorf("ValidateFormat: card expired: %w", domain.ErrInvalidCardData)
	}

	if !cvvPattern.MatchString(d.CVV) {
		return fmt.Errorf("ValidateFormat: cvv: %w", domain.ErrInvalidCardData)
	}
	if strings.TrimSpace(d.HolderName) == "" {
		return fmt.Errorf("ValidateFormat: holder name: %w", domain.ErrInvalidCardData)
	}
	return nil
}

// ParseExpiry parses MM/YY into a four digit year and a month.
func ParseExpiry(s string) (year, month int, err error) {
	m := expiryPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, 0, fmt.Errorf("expiry format: %w", domain.ErrInvalidCardData)
	}
	month, _ = strconv.Atoi(m[1])
	yy, _ := strconv.Atoi(m[2])
	if month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("expiry month: %w", domain.ErrInvalidCardData)
	}
	return 2000 + yy, month, nil
}

// IsExpired is true only when the expiry month is strictly before the month of now.
func IsExpired(year, month int, now time.Time) bool {
	ny, nm := now.Year(), int(now.Month())
	return year < ny || (year == ny && month < nm)
}

func DetectNetwork(pan string) *domain.CardNetwork {
	var n domain.CardNetwork
	switch {
	case strings.HasPrefix(pan, "4"):
		n = domain.CardNetworkVisa
	case hasPrefixRange(pan, 2, 51, 55), hasPrefixRange(pan, 4, 2221, 2720):
		n = domain.CardNetworkMastercard
	case strings.HasPrefix(pan, "34"), strings.HasPrefix(pan, "37"):
		n = domain.CardNetworkAmex
	case strings.HasPrefix(pan, "36"), strings.HasPrefix(pan, "38"):
		n = domain.CardNetworkDiners
	default:
		return nil
	}
	return &n
}

func hasPrefixRange(pan string, digits, lo, hi int) bool {
	if len(pan) < digits {
		return false
	}
	v, err := strconv.Atoi(pan[:digits])
	if err != nil {
		return false
	}
	return v >= lo && v <= hi
}

func LastFour(pan string) string {
	if len(pan) <= 4 {
		return pan
	}
	return pan[len(pan)-4:]
}

// MaskPAN keeps the last four digits only.
func MaskPAN(pan string) string {
	if len(pan) <= 4 {
		return strings.Repeat("*", len(pan))
	}
	return strings.Repeat("*", len(pan)-4) + LastFour(pan)
}
