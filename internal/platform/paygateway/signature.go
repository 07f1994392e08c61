// Package paygateway talks to the payment provider: it creates orders and
// checks the signatures the provider attaches to payment callbacks.
package paygateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/shopspring/decimal"
)

// CurrencyINR is the only currency orders are created in.
const CurrencyINR = "INR"

// Signature is hex(HMAC-SHA256(secret, orderID + "|" + paymentID)).
func Signature(orderID, paymentID, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares in constant time. An empty secret or signature
// never verifies.
func VerifySignature(orderID, paymentID, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	want := Signature(orderID, paymentID, secret)
	return hmac.Equal([]byte(want), []byte(signature))
}

// ToMinorUnits converts rupees to paise, rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
