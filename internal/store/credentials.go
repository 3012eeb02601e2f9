package store

import (
	"context"

	"tradegate/internal/errors"
	"tradegate/internal/security"
)

// CredentialSource resolves decrypted broker credentials for an account
// from the persisted, encrypted record. It is the only place ciphertext
// is turned back into credential JSON; decrypted bytes are never cached.
type CredentialSource struct {
	store  DataStore
	cipher *security.Cipher
}

// NewCredentialSource creates a credential source over the given store and
// cipher.
func NewCredentialSource(store DataStore, cipher *security.Cipher) *CredentialSource {
	return &CredentialSource{store: store, cipher: cipher}
}

// Read returns the decrypted credential JSON for the account. It satisfies
// the adapters' credential-reader contract.
func (c *CredentialSource) Read(ctx context.Context, accountID string) ([]byte, error) {
	account, err := c.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.EncryptedCred == "" {
		return nil, errors.ErrNoCredentials
	}
	plain, err := c.cipher.Decrypt(account.EncryptedCred)
	if err != nil {
		return nil, errors.Wrap(err, "decrypting credentials")
	}
	return plain, nil
}

// Seal encrypts raw credential JSON for storage.
func (c *CredentialSource) Seal(raw []byte) (string, error) {
	return c.cipher.Encrypt(raw)
}
