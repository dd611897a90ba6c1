package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SignWebhookPayload computes the hex HMAC-SHA256 over "timestamp.body" with
// the store's shared secret. The dispatcher sends it as `v1=<hex>`.
func SignWebhookPayload(secret string, timestamp int64, body []byte) string {
	signed := append([]byte(strconv.FormatInt(timestamp, 10)+"."), body...)
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(signed)
	return hex.EncodeToString(mac.Sum(nil))
}

var (
	ErrSignatureInvalid  = errors.New("webhook signature invalid")
	ErrSignatureExpired  = errors.New("webhook timestamp outside tolerance")
	ErrSignatureReplayed = errors.New("webhook signature already seen")
)

// SignatureVerifier implements the receiver side of the signing contract:
// reject timestamps outside the tolerance window and exact-duplicate
// signatures seen within the replay cache TTL. Merchants embed it in their
// webhook endpoints.
type SignatureVerifier struct {
	secret           string
	toleranceSeconds int64
	cacheTTL         time.Duration

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewSignatureVerifier(secret string, toleranceSeconds int64, cacheTTL time.Duration) *SignatureVerifier {
	if toleranceSeconds <= 0 {
		toleranceSeconds = 300
	}
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &SignatureVerifier{
		secret:           secret,
		toleranceSeconds: toleranceSeconds,
		cacheTTL:         cacheTTL,
		seen:             map[string]time.Time{},
	}
}

// Verify checks a `v1=<hex>` signature header against the timestamp header
// and raw body, using now for the tolerance window and the replay cache.
func (v *SignatureVerifier) Verify(signatureHeader, timestampHeader string, body []byte, now time.Time) error {
	sigHex := parseSignatureHeader(signatureHeader)
	if sigHex == "" {
		return ErrSignatureInvalid
	}

	ts, err := strconv.ParseInt(strings.TrimSpace(timestampHeader), 10, 64)
	if err != nil {
		return ErrSignatureInvalid
	}

	diff := now.Unix() - ts
	if diff > v.toleranceSeconds || -diff > v.toleranceSeconds {
		return ErrSignatureExpired
	}

	candidate, err := hex.DecodeString(sigHex)
	if err != nil {
		return ErrSignatureInvalid
	}
	expected, err := hex.DecodeString(SignWebhookPayload(v.secret, ts, body))
	if err != nil {
		return ErrSignatureInvalid
	}
	if !hmac.Equal(candidate, expected) {
		return ErrSignatureInvalid
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for sig, seenAt := range v.seen {
		if now.Sub(seenAt) > v.cacheTTL {
			delete(v.seen, sig)
		}
	}
	if _, dup := v.seen[sigHex]; dup {
		return ErrSignatureReplayed
	}
	v.seen[sigHex] = now

	return nil
}

func parseSignatureHeader(header string) string {
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "v1=") {
			return strings.TrimSpace(strings.TrimPrefix(part, "v1="))
		}
	}
	return ""
}
