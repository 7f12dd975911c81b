// Package webhook implements the webhook-standard signature verification
// spec §4.9 step 1 requires: HMAC-SHA256 over id/timestamp/body, tolerant
// of multiple key encodings and field orderings, with a ±300s skew window.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrVerificationFailed is returned for any failed verification: bad
// signature, expired timestamp, or malformed headers. Callers must not
// branch on the specific cause — spec §6 requires a flat 401 either way.
var ErrVerificationFailed = errors.New("webhook verification failed")

// SkewWindow is the maximum allowed |now - timestamp| (spec §4.9 step 1 / §8).
const SkewWindow = 300 * time.Second

// Headers bundles the three required webhook-standard headers (spec §6).
type Headers struct {
	ID        string
	Timestamp string
	Signature string
}

// Verify checks a webhook-standard delivery against a shared key. key may be
// supplied in any of three encodings (ascii, hex, base64); all three are
// tried. Both `(id,ts,body)` and `(ts,body)` signed-content orderings are
// tried, and both base64 and hex signature encodings are accepted in the
// signature header, matching providers that disagree on convention. When
// the timestamp header is in milliseconds, both orderings are also tried
// with the normalized seconds value.
func Verify(h Headers, rawBody []byte, key string, now time.Time) error {
	ts, err := normalizedTimestamp(h.Timestamp)
	if err != nil {
		return ErrVerificationFailed
	}
	if abs(now.Unix()-ts) > int64(SkewWindow.Seconds()) {
		return ErrVerificationFailed
	}

	candidates := signatureCandidates(h.Signature)
	if len(candidates) == 0 {
		return ErrVerificationFailed
	}

	signedContents := [][]byte{
		[]byte(h.ID + "." + h.Timestamp + "." + string(rawBody)),
		[]byte(h.Timestamp + "." + string(rawBody)),
	}
	if tsSeconds := strconv.FormatInt(ts, 10); tsSeconds != h.Timestamp {
		signedContents = append(signedContents,
			[]byte(h.ID+"."+tsSeconds+"."+string(rawBody)),
			[]byte(tsSeconds+"."+string(rawBody)),
		)
	}

	for _, keyBytes := range keyEncodings(key) {
		for _, signedContent := range signedContents {
			mac := hmac.New(sha256.New, keyBytes)
			mac.Write(signedContent)
			expected := mac.Sum(nil)
			for _, got := range candidates {
				if subtle.ConstantTimeCompare(expected, got) == 1 {
					return nil
				}
			}
		}
	}
	return ErrVerificationFailed
}

// normalizedTimestamp parses the webhook-timestamp header as Unix seconds,
// dividing by 1000 first if the value looks like milliseconds (some
// callers send ms; preserved from original_source's verify_composio — see
// DESIGN.md supplemented-features entry 1).
func normalizedTimestamp(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if n > 1_000_000_000_000 {
		n /= 1000
	}
	return n, nil
}

// signatureCandidates decodes the webhook-signature header, which may carry
// a space-separated list of `v1,<sig>` tokens (webhook-standard) or a bare
// signature; each candidate is tried as both base64 and hex.
func signatureCandidates(raw string) [][]byte {
	var out [][]byte
	for _, tok := range strings.Fields(raw) {
		if idx := strings.Index(tok, ","); idx != -1 {
			tok = tok[idx+1:]
		}
		if b, err := base64.StdEncoding.DecodeString(tok); err == nil {
			out = append(out, b)
		}
		if b, err := hex.DecodeString(tok); err == nil {
			out = append(out, b)
		}
	}
	return out
}

// keyEncodings returns the key interpreted as raw ASCII bytes, hex-decoded
// bytes, and base64-decoded bytes, in that order; invalid decodings are
// silently skipped.
func keyEncodings(key string) [][]byte {
	out := [][]byte{[]byte(key)}
	trimmed := key
	if strings.Contains(trimmed, "_") {
		if idx := strings.Index(trimmed, "_"); idx != -1 {
			trimmed = trimmed[idx+1:]
		}
	}
	if b, err := hex.DecodeString(trimmed); err == nil {
		out = append(out, b)
	}
	if b, err := base64.StdEncoding.DecodeString(trimmed); err == nil {
		out = append(out, b)
	}
	return out
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
