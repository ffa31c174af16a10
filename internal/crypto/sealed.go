// Package crypto seals and opens the operator secrets file.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/bytedance/sonic"
	"golang.org/x/crypto/pbkdf2"
)

const (
	kdfIterations = 480_000
	saltLen       = 16
	keyLen        = 32
	sealVersion   = 1
)

// ErrWrongPassword is returned when the GCM tag does not verify.
var ErrWrongPassword = errors.New("crypto: wrong password or corrupted envelope")

type envelope struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Seal encrypts plaintext under password and returns the JSON envelope.
func Seal(plaintext []byte, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: empty password")
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	aead, err := newAEAD(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}

	return sonic.ConfigStd.MarshalIndent(envelope{
		Version:    sealVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(aead.Seal(nil, nonce, plaintext, nil)),
	}, "", "  ")
}

// Open decrypts an envelope produced by Seal.
func Open(sealed []byte, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: empty password")
	}
	var env envelope
	if err := sonic.Unmarshal(sealed, &env); err != nil {
		return nil, fmt.Errorf("crypto: parse envelope: %w", err)
	}
	if env.Version != sealVersion {
		return nil, fmt.Errorf("crypto: unsupported envelope version %d", env.Version)
	}

	var salt, nonce, ct []byte
	for _, f := range []struct {
		name string
		in   string
		out  *[]byte
	}{
		{"salt", env.Salt, &salt},
		{"nonce", env.Nonce, &nonce},
		{"ciphertext", env.Ciphertext, &ct},
	} {
		b, err := base64.StdEncoding.DecodeString(f.in)
		if err != nil {
			return nil, fmt.Errorf("crypto: decode %s: %w", f.name, err)
		}
		*f.out = b
	}

	aead, err := newAEAD(password, salt)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("crypto: nonce length %d", len(nonce))
	}
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrWrongPassword
	}
	return plain, nil
}

// OpenFile reads and decrypts the envelope at path.
func OpenFile(path, password string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("crypto: read %s: %w", path, err)
	}
	return Open(data, password)
}

// SealFile encrypts the file at src and writes the envelope to dst with 0600
// permissions.
func SealFile(src, dst, password string) error {
	plain, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("crypto: read %s: %w", src, err)
	}
	out, err := Seal(plain, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, out, 0o600); err != nil {
		return fmt.Errorf("crypto: write %s: %w", dst, err)
	}
	return nil
}

func newAEAD(password string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, kdfIterations, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return aead, nil
}
