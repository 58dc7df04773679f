package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	HeaderPSPSignature  = "X-PSP-Signature"
	HeaderBankSignature = "X-Bank-Signature"
)

// Signer signs and verifies canonical payloads for one directional
// service relationship.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

func (s *Signer) Sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (s *Signer) Verify(payload, signature string) bool {
	if signature == "" {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hmac.Equal(mac.Sum(nil), got)
}

// Canonical joins fields in the fixed order both sides agree on.
func Canonical(fields ...string) string {
	return strings.Join(fields, "|")
}

func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
