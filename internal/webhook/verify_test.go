package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sign(secret []byte, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, body)))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignatureAcceptsValid(t *testing.T) {
	secret := []byte("whsec_current")
	now := time.Unix(1_700_000_000, 0)
	body := []byte(`{"event":"payment.settled"}`)
	header := fmt.Sprintf("t=%d,v1=%s", now.Unix(), sign(secret, now.Unix(), body))

	sub := Subscription{Provider: "ach-processor", CurrentSecret: secret}
	require.NoError(t, VerifySignature(sub, header, body, now))
}

func TestVerifySignatureRejectsStaleTimestamp(t *testing.T) {
	secret := []byte("whsec_current")
	eventTime := time.Unix(1_700_000_000, 0)
	now := eventTime.Add(10 * time.Minute)
	body := []byte(`{}`)
	header := fmt.Sprintf("t=%d,v1=%s", eventTime.Unix(), sign(secret, eventTime.Unix(), body))

	sub := Subscription{Provider: "ach-processor", CurrentSecret: secret, Tolerance: 5 * time.Minute}
	err := VerifySignature(sub, header, body, now)
	require.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifySignatureRejectsBadMAC(t *testing.T) {
	secret := []byte("whsec_current")
	now := time.Unix(1_700_000_000, 0)
	body := []byte(`{}`)
	header := fmt.Sprintf("t=%d,v1=%s", now.Unix(), sign([]byte("wrong-secret"), now.Unix(), body))

	sub := Subscription{Provider: "ach-processor", CurrentSecret: secret}
	err := VerifySignature(sub, header, body, now)
	require.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifySignatureFallsBackToPreviousSecretDuringRotation(t *testing.T) {
	previous := []byte("whsec_previous")
	now := time.Unix(1_700_000_000, 0)
	body := []byte(`{}`)
	header := fmt.Sprintf("t=%d,v1=%s", now.Unix(), sign(previous, now.Unix(), body))

	sub := Subscription{Provider: "ach-processor", CurrentSecret: []byte("whsec_new"), PreviousSecret: previous}
	require.NoError(t, VerifySignature(sub, header, body, now))
}

func TestVerifySignatureRejectsMalformedHeader(t *testing.T) {
	sub := Subscription{Provider: "ach-processor", CurrentSecret: []byte("whsec_current")}
	err := VerifySignature(sub, "garbage", []byte("{}"), time.Now())
	require.ErrorIs(t, err, ErrSignatureInvalid)
}
