package iyzico

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// AuthPath is the URI path of the payment authorization endpoint. It is part
// of the signed payload.
const AuthPath = "/payment/auth"

const (
	authScheme   = "IYZWSv2"
	nonceBytes   = 16
	headerRandom = "x-iyzi-rnd"
	headerAuth   = "Authorization"
	headerType   = "Content-Type"
	headerAccept = "Accept"
	contentJSON  = "application/json"
)

// NewRandomKey returns a hex-encoded 16 byte nonce.
func NewRandomKey() (string, error) {
	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Signature computes hex(HMAC-SHA256(secret, randomKey + uriPath + body)).
func Signature(randomKey, uriPath string, body []byte, secretKey string) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(randomKey))
	mac.Write([]byte(uriPath))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// AuthorizationHeader builds the IYZWSv2 authorization header value.
func AuthorizationHeader(apiKey, randomKey, signature string) string {
	var b strings.Builder
	b.WriteString("apiKey:")
	b.WriteString(apiKey)
	b.WriteString("&randomKey:")
	b.WriteString(randomKey)
	b.WriteString("&signature:")
	b.WriteString(signature)
	return authScheme + " " + base64.StdEncoding.EncodeToString([]byte(b.String()))
}
