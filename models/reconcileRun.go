package models

import (
	"context"
	"time"

	"github.com/lhelwerd/rechu/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ReconcileStatusSuccess = "success"
	ReconcileStatusFailed  = "failed"
	ReconcileStatusDryRun  = "dry_run"
)

const (
	ReconcileScopeReceipts  = "receipts"
	ReconcileScopeInventory = "inventory"
	ReconcileScopeShops     = "shops"
	ReconcileScopeDelete    = "delete"
	ReconcileScopeMatch     = "match"
)

// ReconcileRun records one reconcile pass over a scope.
type ReconcileRun struct {
	ID            uint             `gorm:"primary_key" json:"id"`
	CorrelationId string           `gorm:"size:36;index" json:"correlation_id"`
	Scope         string           `gorm:"size:20;not null;index" json:"scope"`
	Target        string           `gorm:"size:255" json:"target"`
	Status        string           `gorm:"size:20;not null" json:"status"`
	TriggeredBy   string           `gorm:"size:50" json:"triggered_by"`
	Stats         datatypes.JSON   `json:"stats"`
	Created       int              `json:"created"`
	Updated       int              `json:"updated"`
	Deleted       int              `json:"deleted"`
	ErrorCount    int              `json:"error_count"`
	StartedAt     *time.Time       `json:"started_at"`
	FinishedAt    *time.Time       `json:"finished_at"`
	DurationMs    int64            `json:"duration_ms"`
	CreatedAt     time.Time        `gorm:"autoCreateTime" json:"created_at"`
	Errors        []ReconcileError `gorm:"foreignKey:RunId" json:"errors"`
}

type ReconcileError struct {
	ID        uint      `gorm:"primary_key" json:"id"`
	RunId     uint      `gorm:"index;not null" json:"run_id"`
	Entity    string    `gorm:"size:50" json:"entity"`
	Key       string    `gorm:"size:255" json:"key"`
	Message   string    `gorm:"type:text" json:"message"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (r *ReconcileRun) SetStats(stats map[string]int) error {
	data, err := utils.MarshalToJSON(stats)
	if err != nil {
		return err
	}
	r.Stats = datatypes.JSON(data)
	return nil
}

func (r ReconcileRun) GetStats() (map[string]int, error) {
	stats := map[string]int{}
	if len(r.Stats) == 0 {
		return stats, nil
	}
	err := utils.UnmarshalFromJSON(r.Stats, &stats)
	return stats, err
}

// RecordReconcileRun stores the run with its errors.
func RecordReconcileRun(ctx context.Context, db *gorm.DB, run *ReconcileRun) error {
	return db.WithContext(ctx).Create(run).Error
}
