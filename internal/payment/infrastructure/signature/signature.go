package signature

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

var ErrEmptySecret = errors.New("signature secret is empty")

// Verifier checks provider signatures: hex(HMAC-SHA256(secret, base64(canonical JSON))).
// Field names the body key carrying the signature itself; it is dropped before hashing.
type Verifier struct {
	secret []byte
	field  string
}

func NewVerifier(secret, field string) *Verifier {
	return &Verifier{secret: []byte(secret), field: field}
}

func (v *Verifier) Sign(raw []byte) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrEmptySecret
	}
	canonical, err := Canonicalize(raw, v.field)
	if err != nil {
		return "", err
	}
	encoded := base64.StdEncoding.EncodeToString(canonical)

	mac := hmac.New(sha256.New, v.secret)
	_, _ = mac.Write([]byte(encoded))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify never reports true on error.
func (v *Verifier) Verify(raw []byte, provided string) bool {
	provided = strings.ToLower(strings.TrimSpace(provided))
	if provided == "" {
		return false
	}
	expected, err := v.Sign(raw)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(provided))
}

// Sign digests a body with no embedded signature field.
func Sign(raw []byte, secret string) (string, error) {
	return NewVerifier(secret, "").Sign(raw)
}

// Verify checks a body with no embedded signature field.
func Verify(raw []byte, provided, secret string) bool {
	return NewVerifier(secret, "").Verify(raw, provided)
}

// Canonicalize re-encodes a JSON object with sorted keys and no insignificant
// whitespace. Numbers keep their literal form; exclude is removed from the
// top-level object.
func Canonicalize(raw []byte, exclude string) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, err
	}
	if body == nil {
		return nil, errors.New("signature: body is not a JSON object")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("signature: trailing data after JSON object")
	}
	if exclude != "" {
		delete(body, exclude)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(body); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
