// Package auth supplies connection credentials for the trading
// terminal. Providers are opaque secret suppliers: their contents are
// never logged and never serialized.
package auth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"time"
)

// Provider signs the connection handshake. The session transport is the
// only consumer.
type Provider interface {
	// SignConnect returns the authentication headers for a new
	// terminal connection.
	SignConnect() (http.Header, error)
}

// Credentials holds the key id and RSA private key used to sign
// requests to the terminal.
type Credentials struct {
	KeyID      string
	PrivateKey *rsa.PrivateKey
}

// connectPath is the path signed for connection handshakes.
const connectPath = "/terminal/ws/v1"

// LoadCredentials loads signing credentials from a key id and a PEM
// private key file.
func LoadCredentials(keyID, privateKeyPath string) (*Credentials, error) {
	if keyID == "" {
		return nil, fmt.Errorf("key id is required")
	}
	if privateKeyPath == "" {
		return nil, fmt.Errorf("private key path is required")
	}

	privateKey, err := LoadPrivateKey(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}

	return &Credentials{
		KeyID:      keyID,
		PrivateKey: privateKey,
	}, nil
}

// LoadPrivateKey loads an RSA private key from a PEM file. PKCS#8 is
// tried first, then PKCS#1.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key is not an RSA private key")
		}
		return rsaKey, nil
	}

	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return rsaKey, nil
}

// SignConnect implements Provider using an RSA-PSS signature over
// timestamp + method + path, the scheme the terminal requires.
func (c *Credentials) SignConnect() (http.Header, error) {
	timestampMs := time.Now().UnixMilli()

	signature, err := c.sign(timestampMs, http.MethodGet, connectPath)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("TERMINAL-ACCESS-KEY", c.KeyID)
	header.Set("TERMINAL-ACCESS-TIMESTAMP", fmt.Sprintf("%d", timestampMs))
	header.Set("TERMINAL-ACCESS-SIGNATURE", signature)
	return header, nil
}

// String keeps credentials out of accidental formatting.
func (c *Credentials) String() string {
	return "credentials(redacted)"
}

func (c *Credentials) sign(timestampMs int64, method, path string) (string, error) {
	message := fmt.Sprintf("%d%s%s", timestampMs, method, path)
	hashed := sha256.Sum256([]byte(message))

	signature, err := rsa.SignPSS(
		rand.Reader,
		c.PrivateKey,
		crypto.SHA256,
		hashed[:],
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash},
	)
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}

	return base64.StdEncoding.EncodeToString(signature), nil
}

// StaticToken is a Provider for environments that authenticate with a
// bearer token instead of request signing, and for tests.
type StaticToken struct {
	Token string
}

// SignConnect implements Provider.
func (s StaticToken) SignConnect() (http.Header, error) {
	header := http.Header{}
	if s.Token != "" {
		header.Set("Authorization", "Bearer "+s.Token)
	}
	return header, nil
}

// String keeps the token out of accidental formatting.
func (s StaticToken) String() string {
	return "token(redacted)"
}
