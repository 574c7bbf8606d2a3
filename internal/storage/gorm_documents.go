package storage

import (
	"context"
	"errors"

	"github.com/Carrie-PLH/plus/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormDocumentStore keeps documents in the documents table as jsonb.
type GormDocumentStore struct {
	db *Postgres
}

func NewGormDocumentStore(db *Postgres) *GormDocumentStore {
	return &GormDocumentStore{db: db}
}

func (s *GormDocumentStore) Get(ctx context.Context, collection, id string) (map[string]any, error) {
	var doc models.Document
	err := s.db.DB.WithContext(ctx).
		Where("collection = ? AND id = ?", collection, id).
		First(&doc).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeFields(doc.Fields)
}

// Set merges inside a transaction holding the row lock, so concurrent merges
// into one document do not lose fields.
func (s *GormDocumentStore) Set(ctx context.Context, collection, id string, fields map[string]any, merge bool) error {
	return s.db.Transaction(ctx, func(tx *gorm.DB) error {
		if merge {
			var cur models.Document
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("collection = ? AND id = ?", collection, id).
				First(&cur).Error
			switch {
			case err == nil:
				existing, err := decodeFields(cur.Fields)
				if err != nil {
					return err
				}
				fields = MergeFields(existing, normalized(fields))
			case !errors.Is(err, gorm.ErrRecordNotFound):
				return err
			}
		}

		b, err := encodeFields(fields)
		if err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "collection"}, {Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"fields", "updated_at"}),
		}).Create(&models.Document{Collection: collection, ID: id, Fields: b}).Error
	})
}

func (s *GormDocumentStore) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	b, err := encodeFields(fields)
	if err != nil {
		return "", err
	}
	doc := models.Document{Collection: collection, ID: uuid.NewString(), Fields: b}
	if err := s.db.DB.WithContext(ctx).Create(&doc).Error; err != nil {
		return "", err
	}
	return doc.ID, nil
}
