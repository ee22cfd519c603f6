// Package vault encrypts backend credentials at rest.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/mtzanidakis/juror/internal/store"
	"golang.org/x/crypto/argon2"
)

// SecretPrefix marks a config value that names a stored secret.
const SecretPrefix = "secret:"

var (
	ErrNoPassphrase = errors.New("vault passphrase is not set")
	ErrNotFound     = errors.New("secret not found")
)

// Vault provides AES-256-GCM encryption/decryption with a passphrase-derived key.
type Vault struct {
	key [32]byte
}

// New creates a Vault by deriving an AES-256 key from the passphrase via Argon2id.
// The salt is deterministic (SHA-256 of passphrase), so the same passphrase always
// produces the same key across restarts.
func New(passphrase string) *Vault {
	salt := sha256.Sum256([]byte(passphrase))
	key := argon2.IDKey([]byte(passphrase), salt[:16], 1, 64*1024, 4, 32)

	v := &Vault{}
	copy(v.key[:], key)
	return v
}

func (v *Vault) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// Seal encrypts plaintext for the secret called name. The name is bound as
// additional data, so a ciphertext only opens under the name it was sealed for.
func (v *Vault) Seal(name string, plaintext []byte) (ciphertext, nonce []byte, err error) {
	gcm, err := v.gcm()
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext = gcm.Seal(nil, nonce, plaintext, []byte(name))
	return ciphertext, nonce, nil
}

// Open decrypts a ciphertext produced by Seal for the same name.
func (v *Vault) Open(name string, ciphertext, nonce []byte) ([]byte, error) {
	gcm, err := v.gcm()
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, []byte(name))
	if err != nil {
		return nil, fmt.Errorf("decrypt %s: %w", name, err)
	}

	return plaintext, nil
}

// Keyring stores and resolves named secrets through a Vault.
type Keyring struct {
	vault *Vault
	store *store.Store
}

// NewKeyring returns a Keyring. passphrase must not be empty.
func NewKeyring(passphrase string, st *store.Store) (*Keyring, error) {
	if passphrase == "" {
		return nil, ErrNoPassphrase
	}
	return &Keyring{vault: New(passphrase), store: st}, nil
}

// Set encrypts and stores value under name.
func (k *Keyring) Set(name, description, value string) error {
	ct, nonce, err := k.vault.Seal(name, []byte(value))
	if err != nil {
		return err
	}
	return k.store.SaveSecret(&store.Secret{
		Name:        name,
		Description: description,
		Value:       ct,
		Nonce:       nonce,
	})
}

// Get returns the plaintext of the secret called name.
func (k *Keyring) Get(name string) (string, error) {
	sec, err := k.store.GetSecret(name)
	if err != nil {
		return "", err
	}
	if sec == nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	plain, err := k.vault.Open(name, sec.Value, sec.Nonce)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// Resolve returns value unchanged unless it starts with SecretPrefix, in
// which case the named secret is looked up. A nil Keyring can only resolve
// literal values.
func (k *Keyring) Resolve(value string) (string, error) {
	name, ok := strings.CutPrefix(value, SecretPrefix)
	if !ok {
		return value, nil
	}
	if k == nil {
		return "", fmt.Errorf("resolve %s: %w", value, ErrNoPassphrase)
	}
	return k.Get(name)
}
