package ipsqr

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

var (
	accountPattern     = regexp.MustCompile(`^\d{18}$`)
	amountPattern      = regexp.MustCompile(`^[A-Z]{3}\d+(,\d{1,2})?$`)
	paymentCodePattern = regexp.MustCompile(`^\d{3}$`)
	modelPattern       = regexp.MustCompile(`^\d{2}$`)
	nonDigits          = regexp.MustCompile(`[^0-9]`)

	maxAmount = decimal.RequireFromString("999999999999.99")
)

type Result struct {
	Valid  bool              `json:"valid"`
	Errors []string          `json:"errors"`
	Fields map[string]string `json:"parsed_data"`
}

// Parse splits a payload into its fields. Entries without a colon are ignored.
func Parse(payload string) map[string]string {
	fields := make(map[string]string)
	for _, part := range strings.Split(payload, "|") {
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		fields[key] = value
	}
	return fields
}

func Validate(payload string) Result {
	fields := Parse(payload)
	v := &validation{errs: []string{}}

	v.constant(fields, "K", identifier)
	v.constant(fields, "V", version)
	v.constant(fields, "C", charset)
	v.account(fields["R"])
	v.name(fields["N"])
	v.amount(fields["I"])
	v.paymentCode(fields["SF"])
	if ro, ok := fields["RO"]; ok {
		v.reference(ro)
	}

	return Result{Valid: len(v.errs) == 0, Errors: v.errs, Fields: fields}
}

type validation struct {
	errs []string
}

func (v *validation) add(format string, args ...any) {
	v.errs = append(v.errs, fmt.Sprintf(format, args...))
}

func (v *validation) constant(fields map[string]string, key, want string) {
	got, ok := fields[key]
	if !ok {
		v.add("mandatory field %s is missing", key)
		return
	}
	if got != want {
		v.add("field %s has invalid value %q, expected %q", key, got, want)
	}
}

func (v *validation) account(r string) {
	if r == "" {
		v.add("account number (R) is mandatory")
		return
	}
	if !accountPattern.MatchString(r) {
		v.add("account number (R) must be exactly 18 digits")
	}
}

func (v *validation) name(n string) {
	if n == "" {
		v.add("recipient name (N) is mandatory")
		return
	}
	if utf8.RuneCountInString(n) > maxNameLen {
		v.add("recipient name (N) cannot exceed %d characters", maxNameLen)
	}
	if len(strings.Split(n, "\n")) > 3 {
		v.add("recipient name (N) cannot have more than 3 lines")
	}
}

func (v *validation) amount(i string) {
	if i == "" {
		v.add("amount (I) is mandatory")
		return
	}
	if !amountPattern.MatchString(i) {
		v.add("amount (I) must be CURRENCY followed by amount with comma decimals, e.g. RSD5000,00")
		return
	}
	if len(i) < 5 || len(i) > 18 {
		v.add("amount (I) must be between 5 and 18 characters")
	}
	value, err := decimal.NewFromString(strings.Replace(i[3:], ",", ".", 1))
	if err != nil {
		v.add("amount (I) is not a number")
		return
	}
	if value.IsNegative() {
		v.add("amount (I) cannot be negative")
	}
	if value.GreaterThan(maxAmount) {
		v.add("amount (I) cannot exceed 999999999999,99")
	}
}

func (v *validation) paymentCode(sf string) {
	if sf == "" {
		v.add("payment code (SF) is mandatory")
		return
	}
	if !paymentCodePattern.MatchString(sf) {
		v.add("payment code (SF) must be exactly 3 digits")
		return
	}
	if sf[0] != '1' && sf[0] != '2' {
		v.add("payment code (SF) must start with 1 or 2")
	}
}

func (v *validation) reference(ro string) {
	if len(ro) > 25 {
		v.add("reference (RO) cannot exceed 25 characters")
	}
	if len(ro) < 2 {
		v.add("reference (RO) must start with a 2 digit model")
		return
	}
	model := ro[:2]
	if !modelPattern.MatchString(model) {
		v.add("reference (RO) model must be 2 digits")
	}
	if model == "97" && len(ro) > 2 && !Mod97(ro[2:]) {
		v.add("reference (RO) fails the model 97 checksum")
	}
}

// Mod97 checks that the digits of ref form a multiple of 97.
func Mod97(ref string) bool {
	digits := nonDigits.ReplaceAllString(ref, "")
	if len(digits) < 2 {
		return false
	}
	n, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return false
	}
	return new(big.Int).Mod(n, big.NewInt(97)).Sign() == 0
}
