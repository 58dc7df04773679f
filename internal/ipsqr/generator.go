// Package ipsqr builds and validates NBS IPS QR payloads: pipe separated
// key:value pairs describing a credit transfer to a single recipient account.
package ipsqr

import (
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
)

const (
	identifier  = "PR"
	version     = "01"
	charset     = "1"
	paymentCode = "289"

	accountLen    = 18
	maxNameLen    = 70
	maxPurposeLen = 35
	imageSize     = 400
)

type Params struct {
	RecipientAccount string
	RecipientName    string
	Amount           decimal.Decimal
	Currency         string
	Reference        string
	Purpose          string
}

// Payload renders the IPS text. The RO field is left out entirely when there
// is no reference.
func Payload(p Params) string {
	fields := []string{
		"K:" + identifier,
		"V:" + version,
		"C:" + charset,
		"R:" + NormalizeAccount(p.RecipientAccount),
		"N:" + truncate(p.RecipientName, maxNameLen),
		"I:" + AmountField(p.Currency, p.Amount),
		"SF:" + paymentCode,
	}
	if p.Purpose != "" {
		fields = append(fields, "S:"+truncate(p.Purpose, maxPurposeLen))
	}
	if p.Reference != "" {
		fields = append(fields, "RO:00"+p.Reference)
	}
	return strings.Join(fields, "|")
}

// Generate returns the payload together with its PNG rendering, base64 encoded.
func Generate(p Params) (payload, imageBase64 string, err error) {
	payload = Payload(p)
	img, err := Image(payload)
	if err != nil {
		return "", "", err
	}
	return payload, img, nil
}

func Image(payload string) (string, error) {
	png, err := qrcode.Encode(payload, qrcode.Medium, imageSize)
	if err != nil {
		return "", fmt.Errorf("Image: %w", err)
	}
	return base64.StdEncoding.EncodeToString(png), nil
}

// AmountField formats CUR + amount with a comma separator. A single trailing
// zero in the decimals is dropped, whole amounts keep ",00".
func AmountField(currency string, amount decimal.Decimal) string {
	s := strings.Replace(amount.StringFixed(2), ".", ",", 1)
	if strings.HasSuffix(s, "0") && !strings.HasSuffix(s, ",00") {
		s = s[:len(s)-1]
	}
	return currency + s
}

// NormalizeAccount turns domestic account notations into the 18 digit form:
// bank(3) + account(13, zero padded) + control(2).
func NormalizeAccount(account string) string {
	cleaned := strings.NewReplacer("-", "", " ", "").Replace(account)
	cleaned = strings.TrimPrefix(cleaned, "RS")
	if len(cleaned) == accountLen {
		return cleaned
	}

	if strings.Contains(account, "-") {
		parts := strings.Split(strings.ReplaceAll(account, "RS", ""), "-")
		if len(parts) == 3 {
			mid := strings.TrimSpace(parts[1])
			if n, ok := new(big.Int).SetString(mid, 10); ok {
				return strings.TrimSpace(parts[0]) + zeroPad(n.String(), 13) + strings.TrimSpace(parts[2])
			}
		}
	}

	if len(cleaned) < accountLen {
		return zeroPad(cleaned, accountLen)
	}
	return cleaned[:accountLen]
}

func zeroPad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
