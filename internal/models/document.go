package models

import "time"

// Document is one persisted JSON value in a named collection. The four
// durable collections (sessions, messages, orders, promotion) plus the
// cached panel credential all live in this table.
type Document struct {
	Collection string    `gorm:"primaryKey;size:32"`
	Key        string    `gorm:"primaryKey;size:191"`
	Body       string    `gorm:"type:text;not null"`
	UpdatedAt  time.Time `gorm:"index"`
}
