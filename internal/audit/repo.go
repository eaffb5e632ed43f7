package audit

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Insert stores an entry. Re-delivered events hit the unique event_id index;
// that duplicate is reported as already-stored, not as a failure.
func (r *Repo) Insert(ctx context.Context, e *Entry) (created bool, err error) {
	err = r.db.WithContext(ctx).Create(e).Error
	if err == nil {
		return true, nil
	}
	var existing Entry
	getErr := r.db.WithContext(ctx).
		Where("event_id = ?", e.EventID).
		First(&existing).Error
	if getErr == nil {
		return false, nil
	}
	if errors.Is(getErr, gorm.ErrRecordNotFound) {
		return false, err
	}
	return false, getErr
}

// ListBySubject returns entries newest first.
func (r *Repo) ListBySubject(ctx context.Context, subject string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var out []Entry
	if err := r.db.WithContext(ctx).
		Where("subject = ?", subject).
		Order("id DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
