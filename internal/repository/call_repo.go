package repository

import (
	"time"

	"github.com/pccr10001/intercom/internal/model"
	"gorm.io/gorm"
)

type CallRepository struct {
	db *gorm.DB
}

func NewCallRepository(db *gorm.DB) *CallRepository {
	return &CallRepository{db: db}
}

func (r *CallRepository) Create(rec *model.CallRecord) error {
	return r.db.Create(rec).Error
}

// Recent returns up to limit records, newest first.
func (r *CallRepository) Recent(limit int) ([]model.CallRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var list []model.CallRecord
	err := r.db.Order("created_at desc").Order("id desc").Limit(limit).Find(&list).Error
	return list, err
}

// Clear deletes records created before the cutoff, or every record when
// before is zero.
func (r *CallRepository) Clear(before time.Time) (int64, error) {
	q := r.db.Where("1 = 1")
	if !before.IsZero() {
		q = r.db.Where("created_at < ?", before)
	}
	res := q.Delete(&model.CallRecord{})
	return res.RowsAffected, res.Error
}
