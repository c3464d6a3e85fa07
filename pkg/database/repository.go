package database

import (
	"time"

	"gorm.io/gorm"
)

// CallRepository handles call log database operations
type CallRepository struct {
	db *gorm.DB
}

// NewCallRepository creates a new call repository
func NewCallRepository(db *gorm.DB) *CallRepository {
	return &CallRepository{db: db}
}

// Create adds a new call record
func (r *CallRepository) Create(c *Call) error {
	return r.db.Create(c).Error
}

// GetRecent retrieves the most recent N calls
func (r *CallRepository) GetRecent(limit int) ([]Call, error) {
	var calls []Call
	err := r.db.Order("start_time DESC").Limit(limit).Find(&calls).Error
	return calls, err
}

// GetRecentPaginated retrieves calls with pagination
func (r *CallRepository) GetRecentPaginated(page, perPage int) ([]Call, int64, error) {
	var calls []Call
	var total int64

	if err := r.db.Model(&Call{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * perPage
	err := r.db.Order("start_time DESC").
		Offset(offset).
		Limit(perPage).
		Find(&calls).Error

	return calls, total, err
}

// GetByTalkgroup retrieves calls for a specific talkgroup
func (r *CallRepository) GetByTalkgroup(tgID uint32, limit int) ([]Call, error) {
	var calls []Call
	err := r.db.Where("talkgroup_id = ?", tgID).
		Order("start_time DESC").
		Limit(limit).
		Find(&calls).Error
	return calls, err
}

// DeleteOlderThan deletes calls that started before the given time
func (r *CallRepository) DeleteOlderThan(before time.Time) (int64, error) {
	result := r.db.Where("start_time < ?", before).Delete(&Call{})
	return result.RowsAffected, result.Error
}
