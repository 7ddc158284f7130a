package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nexguard/nexbot/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Gorm is a Store backed by the documents table.
type Gorm struct {
	db *gorm.DB
}

// NewGorm wraps an open, migrated database.
func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

// Get returns the body stored under collection/key.
func (g *Gorm) Get(ctx context.Context, collection, key string) ([]byte, error) {
	var doc models.Document
	err := g.db.WithContext(ctx).
		Where("collection = ? AND `key` = ?", collection, key).
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s/%s: %w", collection, key, err)
	}
	return []byte(doc.Body), nil
}

// Put inserts or replaces the body stored under collection/key.
func (g *Gorm) Put(ctx context.Context, collection, key string, body []byte) error {
	doc := models.Document{
		Collection: collection,
		Key:        key,
		Body:       string(body),
		UpdatedAt:  time.Now(),
	}
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "collection"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"body", "updated_at"}),
	}).Create(&doc).Error
	if err != nil {
		return fmt.Errorf("store: put %s/%s: %w", collection, key, err)
	}
	return nil
}

// Delete removes collection/key. Deleting a missing key is not an error.
func (g *Gorm) Delete(ctx context.Context, collection, key string) error {
	err := g.db.WithContext(ctx).
		Where("collection = ? AND `key` = ?", collection, key).
		Delete(&models.Document{}).Error
	if err != nil {
		return fmt.Errorf("store: delete %s/%s: %w", collection, key, err)
	}
	return nil
}

// ListAll returns every document in collection keyed by document key.
func (g *Gorm) ListAll(ctx context.Context, collection string) (map[string][]byte, error) {
	var docs []models.Document
	if err := g.db.WithContext(ctx).Where("collection = ?", collection).Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("store: list %s: %w", collection, err)
	}
	out := make(map[string][]byte, len(docs))
	for _, d := range docs {
		out[d.Key] = []byte(d.Body)
	}
	return out, nil
}
