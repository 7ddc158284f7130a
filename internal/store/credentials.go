package store

import (
	"context"
	"errors"
)

const panelCredentialKey = "panel"

// CredentialCache persists the provisioning panel session cookie so a
// restart does not force a fresh login.
type CredentialCache struct {
	s Store
}

// NewCredentialCache returns a cache writing to the credentials collection.
func NewCredentialCache(s Store) *CredentialCache {
	return &CredentialCache{s: s}
}

// Load returns the cached credential, or "" when none has been saved.
func (c *CredentialCache) Load(ctx context.Context) (string, error) {
	body, err := c.s.Get(ctx, Credentials, panelCredentialKey)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Save replaces the cached credential.
func (c *CredentialCache) Save(ctx context.Context, credential string) error {
	return c.s.Put(ctx, Credentials, panelCredentialKey, []byte(credential))
}
