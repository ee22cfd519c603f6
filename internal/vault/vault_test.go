package vault

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mtzanidakis/juror/internal/config"
	"github.com/mtzanidakis/juror/internal/store"
)

func TestRoundTrip(t *testing.T) {
	v := New("test-passphrase")
	plaintext := []byte("sk-hello-vault")

	ciphertext, nonce, err := v.Seal("openai", plaintext)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	decrypted, err := v.Open("openai", ciphertext, nonce)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if !bytes.Equal(plaintext, decrypted) {
		t.Fatalf("got %q, want %q", decrypted, plaintext)
	}
}

func TestWrongPassphrase(t *testing.T) {
	v1 := New("correct-passphrase")
	v2 := New("wrong-passphrase")

	ciphertext, nonce, err := v1.Seal("k", []byte("secret"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	if _, err := v2.Open("k", ciphertext, nonce); err == nil {
		t.Fatal("expected error decrypting with wrong passphrase")
	}
}

func TestWrongName(t *testing.T) {
	v := New("passphrase")

	ciphertext, nonce, err := v.Seal("openai", []byte("secret"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	if _, err := v.Open("anthropic", ciphertext, nonce); err == nil {
		t.Fatal("expected error opening a secret under another name")
	}
}

func TestDifferentPassphrasesDifferentKeys(t *testing.T) {
	v1 := New("passphrase-one")
	v2 := New("passphrase-two")

	if v1.key == v2.key {
		t.Fatal("different passphrases produced the same key")
	}
	if New("passphrase-one").key != v1.key {
		t.Fatal("same passphrase produced different keys")
	}
}

func TestEmptyPlaintext(t *testing.T) {
	v := New("test")

	ciphertext, nonce, err := v.Seal("empty", []byte{})
	if err != nil {
		t.Fatalf("seal empty: %v", err)
	}

	decrypted, err := v.Open("empty", ciphertext, nonce)
	if err != nil {
		t.Fatalf("open empty: %v", err)
	}

	if len(decrypted) != 0 {
		t.Fatalf("expected empty, got %d bytes", len(decrypted))
	}
}

func newTestKeyring(t *testing.T, passphrase string) (*Keyring, *store.Store) {
	t.Helper()
	st, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	k, err := NewKeyring(passphrase, st)
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	return k, st
}

func TestKeyring(t *testing.T) {
	k, st := newTestKeyring(t, "hunter2")

	if err := k.Set("openai", "OpenAI API key", "sk-123"); err != nil {
		t.Fatalf("set: %v", err)
	}

	raw, _ := st.GetSecret("openai")
	if bytes.Contains(raw.Value, []byte("sk-123")) {
		t.Fatal("secret stored in plaintext")
	}

	got, err := k.Get("openai")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "sk-123" {
		t.Errorf("expected sk-123, got %q", got)
	}

	if _, err := k.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	other, err := NewKeyring("other-pass", st)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.Get("openai"); err == nil {
		t.Error("expected wrong passphrase to fail")
	}
}

func TestResolve(t *testing.T) {
	k, _ := newTestKeyring(t, "hunter2")
	_ = k.Set("openai", "", "sk-abc")

	if got, err := k.Resolve("plain-key"); err != nil || got != "plain-key" {
		t.Errorf("expected literal passthrough, got %q, %v", got, err)
	}
	if got, err := k.Resolve("secret:openai"); err != nil || got != "sk-abc" {
		t.Errorf("expected resolved secret, got %q, %v", got, err)
	}

	var nilRing *Keyring
	if got, err := nilRing.Resolve("ollama"); err != nil || got != "ollama" {
		t.Errorf("nil keyring should pass literals through, got %q, %v", got, err)
	}
	if _, err := nilRing.Resolve("secret:openai"); !errors.Is(err, ErrNoPassphrase) {
		t.Errorf("expected ErrNoPassphrase, got %v", err)
	}
}

func TestNewKeyringRequiresPassphrase(t *testing.T) {
	if _, err := NewKeyring("", nil); !errors.Is(err, ErrNoPassphrase) {
		t.Fatalf("expected ErrNoPassphrase, got %v", err)
	}
}
