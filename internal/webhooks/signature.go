// Package webhooks delivers signed order events to subscriber URLs. It holds
// the signature scheme, the retrying Sender, the Dispatcher that fans events
// out to matching subscriptions, and the Sweeper that re-drives dead letters.
package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// SignatureTolerance bounds the clock skew accepted by VerifySignature.
const SignatureTolerance = 300 * time.Second

// Signature verification errors.
var (
	ErrMalformedSignature = errors.New("malformed signature header")
	ErrSignatureExpired   = errors.New("signature timestamp outside tolerance")
	ErrSignatureMismatch  = errors.New("signature mismatch")
)

// SignedPayload is the byte string covered by both signatures:
// "<unix>." + body.
func SignedPayload(ts int64, body []byte) []byte {
	p := make([]byte, 0, len(body)+21)
	p = strconv.AppendInt(p, ts, 10)
	p = append(p, '.')
	return append(p, body...)
}

// Sign returns the X-UCP-Signature header value "t=<unix>,v1=<hex hmac>".
func Sign(secret string, ts int64, body []byte) string {
	return "t=" + strconv.FormatInt(ts, 10) + ",v1=" + hmacHex(secret, SignedPayload(ts, body))
}

// VerifySignature checks header against body. The timestamped form must be
// within SignatureTolerance of now. The legacy "sha256=<hex>" form carries no
// timestamp and is accepted without replay protection.
func VerifySignature(body []byte, header, secret string, now time.Time) error {
	header = strings.TrimSpace(header)
	if legacy, ok := strings.CutPrefix(header, "sha256="); ok {
		if !equalHex(legacy, hmacHex(secret, body)) {
			return ErrSignatureMismatch
		}
		return nil
	}

	var (
		ts    int64
		haveT bool
		sigs  []string
	)
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return ErrMalformedSignature
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return ErrMalformedSignature
			}
			ts, haveT = n, true
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if !haveT || len(sigs) == 0 {
		return ErrMalformedSignature
	}

	skew := now.Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > SignatureTolerance {
		return ErrSignatureExpired
	}

	want := hmacHex(secret, SignedPayload(ts, body))
	for _, s := range sigs {
		if equalHex(s, want) {
			return nil
		}
	}
	return ErrSignatureMismatch
}

func hmacHex(secret string, msg []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

func equalHex(a, b string) bool {
	return hmac.Equal([]byte(strings.ToLower(a)), []byte(b))
}
