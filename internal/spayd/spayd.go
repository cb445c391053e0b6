// Package spayd formats Short Payment Descriptor (SPD) strings for a
// payment share. The descriptor carries the amount, currency, a
// variable-symbol style reference and a message; rendering the string
// into a scannable image is left to an external collaborator.
package spayd

import (
	"fmt"
	"strings"

	pkgerrors "github.com/beansplit/beansplit/pkg/errors"
)

const (
	version       = "1.0"
	maxMessageLen = 60
	maxRefDigits  = 10
)

// Payment is the input to Encode. Amount is in minor currency units.
type Payment struct {
	Account   string
	Amount    int64
	Currency  string
	Reference string
	Message   string
}

// Encode renders p as an SPD string, e.g.
//
//	SPD*1.0*ACC:CZ6508000000192000145399*AM:33.34*CC:CZK*X-VS:1234567890*MSG:ETHIOPIA YIRGACHEFFE
//
// Pure formatting, no side effects.
func Encode(p Payment) (string, error) {
	if p.Account == "" {
		return "", fmt.Errorf("spayd: account is required")
	}
	if p.Amount < 0 {
		return "", pkgerrors.ErrNegativeAmount
	}
	if err := validateReference(p.Reference); err != nil {
		return "", err
	}

	currency := p.Currency
	if currency == "" {
		currency = "CZK"
	}

	var b strings.Builder
	b.WriteString("SPD*")
	b.WriteString(version)
	b.WriteString("*ACC:")
	b.WriteString(strings.ToUpper(strings.ReplaceAll(p.Account, " ", "")))
	b.WriteString("*AM:")
	b.WriteString(formatAmount(p.Amount))
	b.WriteString("*CC:")
	b.WriteString(strings.ToUpper(currency))
	b.WriteString("*X-VS:")
	b.WriteString(p.Reference)
	if msg := sanitizeMessage(p.Message); msg != "" {
		b.WriteString("*MSG:")
		b.WriteString(msg)
	}
	return b.String(), nil
}

// formatAmount renders minor units as a decimal string with two
// fractional digits, without going through floating point.
func formatAmount(minor int64) string {
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
}

func validateReference(ref string) error {
	if ref == "" {
		return fmt.Errorf("spayd: payment reference is required")
	}
	if len(ref) > maxRefDigits {
		return fmt.Errorf("spayd: payment reference exceeds %d digits", maxRefDigits)
	}
	for _, r := range ref {
		if r < '0' || r > '9' {
			return fmt.Errorf("spayd: payment reference must be numeric")
		}
	}
	return nil
}

// sanitizeMessage strips the SPD field separator, uppercases and
// truncates the message to the allowed length.
func sanitizeMessage(msg string) string {
	msg = strings.ReplaceAll(msg, "*", "")
	msg = strings.TrimSpace(strings.ToUpper(msg))
	if len(msg) > maxMessageLen {
		msg = msg[:maxMessageLen]
	}
	return msg
}
