package services

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrSignFieldMissing is returned when a field required by the sign formula is
// absent from the request. The caller maps it to SIGN_CHECK_FAILED; fields are
// never silently defaulted.
var ErrSignFieldMissing = errors.New("sign field missing")

// ClickSignParams carries the raw request fields entering the Click digest, in
// the exact textual form Click sent them. Amount in particular must not be
// re-formatted before hashing.
type ClickSignParams struct {
	ClickTransID      string
	ServiceID         string
	SecretKey         string
	MerchantTransID   string
	MerchantPrepareID string // only for action=1
	Amount            string
	Action            string
	SignTime          string
}

// ComputeClickSign hashes the protocol-mandated field concatenation:
// click_trans_id + service_id + secret_key + merchant_trans_id +
// [merchant_prepare_id] + amount + action + sign_time.
func ComputeClickSign(p ClickSignParams) (string, error) {
	required := []string{p.ClickTransID, p.ServiceID, p.SecretKey, p.MerchantTransID, p.Amount, p.Action, p.SignTime}
	for _, field := range required {
		if field == "" {
			return "", ErrSignFieldMissing
		}
	}
	if p.Action == "1" && p.MerchantPrepareID == "" {
		return "", ErrSignFieldMissing
	}

	var b strings.Builder
	b.WriteString(p.ClickTransID)
	b.WriteString(p.ServiceID)
	b.WriteString(p.SecretKey)
	b.WriteString(p.MerchantTransID)
	if p.Action == "1" {
		b.WriteString(p.MerchantPrepareID)
	}
	b.WriteString(p.Amount)
	b.WriteString(p.Action)
	b.WriteString(p.SignTime)

	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:]), nil
}

// VerifySign compares a received digest with a computed one in constant time.
func VerifySign(received, computed string) bool {
	received = strings.ToLower(strings.TrimSpace(received))
	if len(received) != len(computed) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(received), []byte(computed)) == 1
}

// ComputeFiscalAuthHeader builds the "user_id:hash:timestamp" credential for
// outbound fiscalization calls, where hash = sha1(timestamp + secret).
func ComputeFiscalAuthHeader(userID, secret string, timestamp int64) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%d%s", timestamp, secret)))
	return fmt.Sprintf("%s:%s:%d", userID, hex.EncodeToString(sum[:]), timestamp)
}
