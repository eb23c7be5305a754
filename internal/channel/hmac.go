package channel

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
)

var errMissingSignature = errors.New("missing signature")
var errBadSignature = errors.New("signature mismatch")

// verifyHMAC verifies the HMAC-SHA256 signature of the body.
func verifyHMAC(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// checkHeaderHMAC verifies a "sha256=<hex>" signature carried in header.
func checkHeaderHMAC(r *http.Request, header, secret string) error {
	sig := r.Header.Get(header)
	if sig == "" {
		return errMissingSignature
	}
	body, err := readBody(r)
	if err != nil {
		return err
	}
	if !verifyHMAC(body, secret, sig) {
		return errBadSignature
	}
	return nil
}

// readBody returns the request body, replaying it when the server has
// already read it. The server bounds the size before adapters see it.
func readBody(r *http.Request) ([]byte, error) {
	if r.GetBody != nil {
		rc, err := r.GetBody()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}
