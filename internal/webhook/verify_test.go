package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sign(key, content string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(content))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerify_ValidSignature(t *testing.T) {
	key := "whsec_testkey"
	now := time.Unix(1_700_000_000, 0)
	ts := "1700000000"
	id := "msg_123"
	body := []byte(`{"hello":"world"}`)

	sig := sign(key, id+"."+ts+"."+string(body))
	h := Headers{ID: id, Timestamp: ts, Signature: "v1," + sig}

	require.NoError(t, Verify(h, body, key, now))
}

func TestVerify_ExpiredTimestamp(t *testing.T) {
	key := "whsec_testkey"
	now := time.Unix(1_700_000_700, 0) // +700s, outside ±300s skew
	ts := "1700000000"
	id := "msg_123"
	body := []byte(`{}`)
	sig := sign(key, id+"."+ts+"."+string(body))
	h := Headers{ID: id, Timestamp: ts, Signature: sig}

	err := Verify(h, body, key, now)
	require.ErrorIs(t, err, ErrVerificationFailed)
}

func TestVerify_WrongSignature(t *testing.T) {
	key := "whsec_testkey"
	now := time.Unix(1_700_000_000, 0)
	h := Headers{ID: "msg_1", Timestamp: "1700000000", Signature: "bm90dGhlcmlnaHRzaWc="}
	err := Verify(h, []byte(`{}`), key, now)
	require.ErrorIs(t, err, ErrVerificationFailed)
}

func TestVerify_MillisecondTimestampNormalized(t *testing.T) {
	key := "whsec_testkey"
	now := time.Unix(1_700_000_000, 0)
	tsSeconds := "1700000000"
	tsMillis := "1700000000000"
	id := "msg_1"
	body := []byte(`{}`)
	sig := sign(key, id+"."+tsSeconds+"."+string(body))
	h := Headers{ID: id, Timestamp: tsMillis, Signature: sig}

	require.NoError(t, Verify(h, body, key, now))
}

func TestVerify_TimestampOnlyOrdering(t *testing.T) {
	key := "whsec_testkey"
	now := time.Unix(1_700_000_000, 0)
	ts := "1700000000"
	body := []byte(`{}`)
	// Some providers sign only ts.body, not id.ts.body.
	sig := sign(key, ts+"."+string(body))
	h := Headers{ID: "msg_1", Timestamp: ts, Signature: sig}

	require.NoError(t, Verify(h, body, key, now))
}
