package store

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"tradegate/internal/errors"
	"tradegate/internal/security"
)

func newTestCredentialSource(t *testing.T) (*CredentialSource, *SQLiteStore) {
	t.Helper()
	s := newTestStore(t)

	key := make([]byte, security.KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generating key: %v", err)
	}
	cipher, err := security.NewCipher(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("NewCipher() error = %v", err)
	}
	return NewCredentialSource(s, cipher), s
}

func TestCredentialSourceRoundTrip(t *testing.T) {
	creds, s := newTestCredentialSource(t)
	ctx := context.Background()

	raw := []byte(`{"clientId":"1000001","accessToken":"tok"}`)
	sealed, err := creds.Seal(raw)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if err := s.SaveAccount(ctx, &BrokerAccount{
		ID:            "acct-1",
		BrokerID:      "dhan",
		EncryptedCred: sealed,
	}); err != nil {
		t.Fatalf("SaveAccount() error = %v", err)
	}

	got, err := creds.Read(ctx, "acct-1")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(got) != string(raw) {
		t.Errorf("Read() = %s, want %s", got, raw)
	}
}

func TestCredentialSourceUnknownAccount(t *testing.T) {
	creds, _ := newTestCredentialSource(t)
	if _, err := creds.Read(context.Background(), "ghost"); !errors.Is(err, errors.ErrAccountNotFound) {
		t.Errorf("Read(ghost) = %v, want ErrAccountNotFound", err)
	}
}
