package models

import "time"

// Document is one keyed record of a document collection. Fields holds the
// JSON object.
type Document struct {
	Collection string    `gorm:"primaryKey;size:64" json:"collection"`
	ID         string    `gorm:"primaryKey;size:128" json:"id"`
	Fields     []byte    `gorm:"type:jsonb;not null" json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (Document) TableName() string {
	return "documents"
}
