package api

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/crypto/sha3"

	"github.com/scrip-ledger/scrip/internal/types"
)

// ErrUnknownKey is returned when a secret resolves to no account.
var ErrUnknownKey = errors.New("unknown api key")

var bucketKeys = []byte("keys")

// Keys maps API key secrets onto ledger accounts. Only the sha3 digest of a
// secret is stored; the secret itself is shown once at creation.
type Keys struct {
	db *bolt.DB
}

// OpenKeys opens the key store file, creating it if needed.
func OpenKeys(path string) (*Keys, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open key store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketKeys)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init key store: %w", err)
	}
	return &Keys{db: db}, nil
}

// Close closes the key store.
func (k *Keys) Close() error {
	return k.db.Close()
}

// Create mints a fresh secret bound to an account and returns it. The secret
// is not recoverable later.
func (k *Keys) Create(account types.AccountID) (string, error) {
	if err := account.Validate(); err != nil {
		return "", err
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	secret := "sk_" + base58.Encode(raw)

	err := k.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKeys).Put(digest(secret), []byte(account))
	})
	if err != nil {
		return "", fmt.Errorf("store key: %w", err)
	}
	return secret, nil
}

// Resolve returns the account a secret is bound to.
func (k *Keys) Resolve(secret string) (types.AccountID, error) {
	var account types.AccountID
	err := k.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketKeys).Get(digest(secret))
		if raw == nil {
			return ErrUnknownKey
		}
		account = types.AccountID(raw)
		return nil
	})
	if err != nil {
		return "", err
	}
	return account, nil
}

// Revoke removes a secret.
func (k *Keys) Revoke(secret string) error {
	return k.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKeys).Delete(digest(secret))
	})
}

func digest(secret string) []byte {
	sum := sha3.Sum256([]byte(secret))
	return []byte(hex.EncodeToString(sum[:]))
}
