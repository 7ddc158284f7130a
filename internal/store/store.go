// Package store is the document persistence layer behind the session map,
// message log, order ledger and promotion ledger. Values are opaque JSON
// bodies addressed by collection and key.
package store

import (
	"context"
	"errors"
)

// Collection names.
const (
	Sessions    = "sessions"
	Messages    = "messages"
	Orders      = "orders"
	Promotion   = "promotion"
	Credentials = "credentials"
)

// PromotionKey is the key of the singleton promotion document.
const PromotionKey = "current"

// Ledgers lists the collections that are snapshotted by Backup.
var Ledgers = []string{Sessions, Messages, Orders, Promotion}

// ErrNotFound is returned by Get when no document exists for the key.
var ErrNotFound = errors.New("store: not found")

// Store reads and writes JSON documents.
type Store interface {
	Get(ctx context.Context, collection, key string) ([]byte, error)
	Put(ctx context.Context, collection, key string, body []byte) error
	Delete(ctx context.Context, collection, key string) error
	ListAll(ctx context.Context, collection string) (map[string][]byte, error)
}
