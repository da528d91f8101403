package agents

import (
	"crypto/sha256"
	"errors"
	"strings"

	"github.com/fernet/fernet-go"
)

var ErrDecrypt = errors.New("agents: cannot decrypt api key")

// Decryptor turns a stored API-key token back into the plaintext key.
type Decryptor interface {
	Decrypt(token string) (string, error)
}

// FernetCipher encrypts and decrypts agent API keys. The Fernet key is the
// SHA-256 digest of the configured secret, matching the agent runtime that
// writes api_keys.encrypted_key.
type FernetCipher struct {
	key *fernet.Key
}

func NewFernetCipher(secret string) (*FernetCipher, error) {
	if secret == "" {
		return nil, errors.New("agents: encryption secret is required")
	}
	k := fernet.Key(sha256.Sum256([]byte(secret)))
	return &FernetCipher{key: &k}, nil
}

// Decrypt verifies and opens token. Tokens never expire.
func (c *FernetCipher) Decrypt(token string) (string, error) {
	msg := fernet.VerifyAndDecrypt([]byte(strings.TrimSpace(token)), 0, []*fernet.Key{c.key})
	if msg == nil {
		return "", ErrDecrypt
	}
	return string(msg), nil
}

func (c *FernetCipher) Encrypt(plain string) (string, error) {
	tok, err := fernet.EncryptAndSign([]byte(plain), c.key)
	if err != nil {
		return "", err
	}
	return string(tok), nil
}
