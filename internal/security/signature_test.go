package security

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

const testSecret = "bank-psp-shared-secret"

func TestSigner_SignVerify(t *testing.T) {
	s := NewSigner(testSecret)
	payload := Canonical("PSP-MERCHANT-001", "15000.00", "RSD", "PSP-1A2B3C4D", "2026-01-10T10:00:00Z")
	sig := s.Sign(payload)

	tests := []struct {
		name      string
		signer    *Signer
		payload   string
		signature string
		want      bool
	}{
		{"valid signature", s, payload, sig, true},
		{"empty signature", s, payload, "", false},
		{"not base64", s, payload, "%%%not-base64", false},
		{"mutated payload", s, payload + "0", sig, false},
		{"mutated signature", s, payload, "A" + sig[1:], sig[0] == 'A'},
		{"wrong secret", NewSigner("other-secret"), payload, sig, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.signer.Verify(tc.payload, tc.signature))
		})
	}
}

func TestSigner_Deterministic(t *testing.T) {
	s := NewSigner(testSecret)
	assert.Equal(t, s.Sign("a|b|c"), s.Sign("a|b|c"))
	assert.NotEqual(t, s.Sign("a|b|c"), s.Sign("a|b|d"))
}

func TestCanonicalFormatting(t *testing.T) {
	assert.Equal(t, "a|b|c", Canonical("a", "b", "c"))
	assert.Equal(t, "15000.00", FormatAmount(decimal.NewFromInt(15000)))
	assert.Equal(t, "12.50", FormatAmount(decimal.RequireFromString("12.5")))

	ts := time.Date(2026, 1, 10, 11, 0, 0, 123000, time.FixedZone("CET", 3600))
	assert.Equal(t, "2026-01-10T10:00:00.000123Z", FormatTimestamp(ts))
}
