package database

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SubscriberRepository handles the radio id directory
type SubscriberRepository struct {
	db *gorm.DB
}

// NewSubscriberRepository creates a new subscriber repository
func NewSubscriberRepository(db *gorm.DB) *SubscriberRepository {
	return &SubscriberRepository{db: db}
}

// UpsertBatch inserts or replaces subscribers, batchSize rows per statement
func (r *SubscriberRepository) UpsertBatch(subs []Subscriber, batchSize int) error {
	if len(subs) == 0 {
		return nil
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "radio_id"}},
		UpdateAll: true,
	}).CreateInBatches(subs, batchSize).Error
}

// Get returns the subscriber with the radio id, nil when unknown
func (r *SubscriberRepository) Get(radioID uint32) (*Subscriber, error) {
	var s Subscriber
	err := r.db.First(&s, "radio_id = ?", radioID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Count returns the number of subscribers
func (r *SubscriberRepository) Count() (int64, error) {
	var n int64
	err := r.db.Model(&Subscriber{}).Count(&n).Error
	return n, err
}
