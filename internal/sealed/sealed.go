// Package sealed encrypts escrow wallet seeds at rest with age.
// The escrow service is the only holder of a Sealer.
package sealed

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
)

var ErrNoIdentity = errors.New("sealed: escrow identity is not configured")

type Sealer struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

// New parses an AGE-SECRET-KEY-1... identity.
func New(identity string) (*Sealer, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, ErrNoIdentity
	}
	id, err := age.ParseX25519Identity(identity)
	if err != nil {
		return nil, fmt.Errorf("parsing escrow identity: %w", err)
	}
	return &Sealer{identity: id, recipient: id.Recipient()}, nil
}

// Generate creates a sealer with a fresh identity. Used by tests and demo mode.
func Generate() (*Sealer, error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating escrow identity: %w", err)
	}
	return &Sealer{identity: id, recipient: id.Recipient()}, nil
}

// Recipient is the public half, safe to log.
func (s *Sealer) Recipient() string {
	return s.recipient.String()
}

func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.recipient)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing sealed secret: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing sealed secret: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Sealer) Unseal(ciphertext []byte) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(ciphertext), s.identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting sealed secret: %w", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading sealed secret: %w", err)
	}
	return out, nil
}
