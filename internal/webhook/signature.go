package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

const DefaultTolerance = 5 * time.Minute

var (
	ErrMalformedSignature = errors.New("webhook signature header is malformed")
	ErrInvalidSignature   = errors.New("webhook signature does not match")
	ErrSignatureExpired   = errors.New("webhook signature timestamp outside tolerance")
)

// Sign returns the header value t={unix},v1={hex hmac-sha256(secret, "{unix}.{payload}")}.
func Sign(payload []byte, secret string, ts time.Time) string {
	unix := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + unix + ",v1=" + computeMAC(payload, secret, unix)
}

// Verify checks a signature header against the raw payload. A zero tolerance disables the
// timestamp check.
func Verify(payload []byte, header, secret string, now time.Time, tolerance time.Duration) error {
	var unix, mac string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return ErrMalformedSignature
		}
		switch k {
		case "t":
			unix = v
		case "v1":
			mac = v
		}
	}

	if unix == "" || mac == "" {
		return ErrMalformedSignature
	}

	ts, err := strconv.ParseInt(unix, 10, 64)
	if err != nil {
		return ErrMalformedSignature
	}

	if tolerance > 0 {
		age := now.Sub(time.Unix(ts, 0))
		if age > tolerance || age < -tolerance {
			return ErrSignatureExpired
		}
	}

	expected, err := hex.DecodeString(computeMAC(payload, secret, unix))
	if err != nil {
		return err
	}
	given, err := hex.DecodeString(mac)
	if err != nil {
		return ErrInvalidSignature
	}

	if !hmac.Equal(expected, given) {
		return ErrInvalidSignature
	}

	return nil
}

func computeMAC(payload []byte, secret, unix string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(unix))
	h.Write([]byte("."))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
