// Package ledger records the lifecycle of every synchronization unit in the
// data_update_logs table.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketsync/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrInvalidStatus is returned when Complete is given a non-terminal status
var ErrInvalidStatus = errors.New("ledger: status must be SUCCESS or FAILED")

// maxErrorLength bounds the stored error message
const maxErrorLength = 4000

// Ledger is an append-only log of sync attempts
type Ledger struct {
	db  *gorm.DB
	log *zap.Logger
	now func() time.Time
}

// New creates a ledger over db
func New(db *gorm.DB, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{db: db, log: log.Named("ledger"), now: time.Now}
}

// Begin opens a RUNNING entry for dataType and returns its id
func (l *Ledger) Begin(ctx context.Context, dataType string) (uint, error) {
	now := l.now()
	entry := models.DataUpdateLog{
		DataType:  dataType,
		StartTime: now,
		Status:    models.StatusRunning,
		CreatedAt: now,
	}
	if err := l.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return 0, fmt.Errorf("begin %s: %w", dataType, err)
	}
	return entry.ID, nil
}

// Complete closes entry id with a terminal status. Completing an entry that
// does not exist is logged and ignored.
func (l *Ledger) Complete(ctx context.Context, id uint, status string, recordsCount int, errMsg string) error {
	if status != models.StatusSuccess && status != models.StatusFailed {
		return fmt.Errorf("%w: got %q", ErrInvalidStatus, status)
	}
	if len(errMsg) > maxErrorLength {
		errMsg = errMsg[:maxErrorLength]
	}

	end := l.now()
	res := l.db.WithContext(ctx).
		Model(&models.DataUpdateLog{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"end_time":      end,
			"status":        status,
			"records_count": recordsCount,
			"error_message": errMsg,
		})
	if res.Error != nil {
		return fmt.Errorf("complete ledger entry %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		l.log.Warn("Ledger entry not found, nothing to complete", zap.Uint("id", id), zap.String("status", status))
	}
	return nil
}

// Latest returns the newest entry for dataType, or nil when the type has
// never run.
func (l *Ledger) Latest(ctx context.Context, dataType string) (*models.DataUpdateLog, error) {
	var entry models.DataUpdateLog
	err := l.db.WithContext(ctx).
		Where("data_type = ?", dataType).
		Order("created_at DESC, id DESC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest %s: %w", dataType, err)
	}
	return &entry, nil
}

// Unit is a convenience bracket around Begin/Complete. A failed Begin is
// logged and the unit keeps running without a ledger row.
type Unit struct {
	ledger   *Ledger
	id       uint
	dataType string
}

// Open begins a unit for dataType
func (l *Ledger) Open(ctx context.Context, dataType string) *Unit {
	id, err := l.Begin(ctx, dataType)
	if err != nil {
		l.log.Error("Failed to open ledger entry", zap.String("data_type", dataType), zap.Error(err))
	}
	return &Unit{ledger: l, id: id, dataType: dataType}
}

// Close records the unit's outcome. A nil error means SUCCESS.
func (u *Unit) Close(ctx context.Context, recordsCount int, unitErr error) {
	if unitErr != nil {
		u.Finish(ctx, false, recordsCount, unitErr.Error())
		return
	}
	u.Finish(ctx, true, recordsCount, "")
}

// Finish records the unit's outcome with a free-form detail, which lets a
// successful unit keep a note of partial failures.
func (u *Unit) Finish(ctx context.Context, success bool, recordsCount int, detail string) {
	if u.id == 0 {
		return
	}
	status := models.StatusFailed
	if success {
		status = models.StatusSuccess
	}
	// the unit's own ctx may already be cancelled; the outcome must still land
	if err := u.ledger.Complete(context.WithoutCancel(ctx), u.id, status, recordsCount, detail); err != nil {
		u.ledger.log.Error("Failed to close ledger entry",
			zap.String("data_type", u.dataType),
			zap.Uint("id", u.id),
			zap.Error(err),
		)
	}
}
