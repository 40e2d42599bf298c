package consent

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/meridian-vc/backoffice/internal/domain"
)

// Unsubscribe tokens are payload.signature, both base64url. The payload is
// "email|consentType|issuedAtUnix" and the signature is HMAC-SHA256 over
// the payload with the deployment secret. Embedding the issue timestamp in
// the signed payload lets verification enforce a max age.

// clockSkew tolerates minor clock drift between issuer and verifier.
const clockSkew = 5 * time.Minute

// GenerateUnsubscribeToken mints a token authorizing unsubscribe for
// (email, consentType) without authentication.
func GenerateUnsubscribeToken(secret []byte, email string, ct domain.ConsentType, issuedAt time.Time) string {
	payload := domain.NormalizeEmail(email) + "|" + string(ct) + "|" + strconv.FormatInt(issuedAt.Unix(), 10)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) +
		"." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyUnsubscribeToken recomputes the expected signature and compares in
// constant time, then checks the embedded issue timestamp against maxAge
// (zero disables the age check). Structurally invalid tokens return false,
// never an error.
func VerifyUnsubscribeToken(secret []byte, token, email string, ct domain.ConsentType, maxAge time.Duration) bool {
	dot := strings.LastIndexByte(token, '.')
	if dot <= 0 || dot == len(token)-1 {
		return false
	}

	payload, err := base64.RawURLEncoding.DecodeString(token[:dot])
	if err != nil {
		return false
	}
	sig, err := base64.RawURLEncoding.DecodeString(token[dot+1:])
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return false
	}

	parts := strings.Split(string(payload), "|")
	if len(parts) != 3 {
		return false
	}
	if parts[0] != domain.NormalizeEmail(email) || parts[1] != string(ct) {
		return false
	}

	issuedUnix, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return false
	}
	issuedAt := time.Unix(issuedUnix, 0)
	now := time.Now()
	if issuedAt.After(now.Add(clockSkew)) {
		return false
	}
	if maxAge > 0 && now.Sub(issuedAt) > maxAge {
		return false
	}
	return true
}

// GenerateUnsubscribeToken mints a token with the ledger's secret.
func (l *Ledger) GenerateUnsubscribeToken(email string, ct domain.ConsentType) string {
	return GenerateUnsubscribeToken(l.secret, email, ct, time.Now())
}

// VerifyUnsubscribeToken verifies with the ledger's secret and configured
// max age.
func (l *Ledger) VerifyUnsubscribeToken(token, email string, ct domain.ConsentType) bool {
	return VerifyUnsubscribeToken(l.secret, token, email, ct, l.tokenMaxAge)
}
