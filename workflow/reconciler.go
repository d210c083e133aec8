package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/lhelwerd/rechu/config"
	"github.com/lhelwerd/rechu/models"
	"github.com/lhelwerd/rechu/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const moduleName = "workflow"

var errDryRun = errors.New("dry run")

// Result summarizes one or more reconcile passes.
type Result struct {
	Created int
	Updated int
	Deleted int
	Errors  []error
	Stats   map[string]int
}

// NewResult returns an empty result ready to accumulate passes.
func NewResult() *Result {
	return &Result{Stats: map[string]int{}}
}

func (r *Result) Add(other *Result) {
	r.Created += other.Created
	r.Updated += other.Updated
	r.Deleted += other.Deleted
	r.Errors = append(r.Errors, other.Errors...)
	for k, v := range other.Stats {
		r.Stats[k] += v
	}
}

// Err joins the errors of all failed scopes.
func (r *Result) Err() error {
	return errors.Join(r.Errors...)
}

// Reconciler keeps the store in line with the YAML records.
type Reconciler struct {
	db     *gorm.DB
	logger *logrus.Logger
	locker Locker
	tracer trace.Tracer
	// inventories split by category or type treat a missing value as its own scope
	byCategory bool
	byType     bool
}

// NewReconciler uses Redis scope locks when a lock client is configured and in-process locks otherwise.
func NewReconciler(db *gorm.DB, logger *logrus.Logger, locker Locker) *Reconciler {
	if logger == nil {
		logger = config.GetLogger()
	}
	if locker == nil {
		if client := config.GetRedisLock(); client != nil {
			locker = NewRedisLocker(client)
		} else {
			locker = NewLocalLocker()
		}
	}
	byCategory, byType := config.InventorySplit()
	return &Reconciler{
		db:         db,
		logger:     logger,
		locker:     locker,
		tracer:     otel.Tracer("github.com/lhelwerd/rechu/workflow"),
		byCategory: byCategory,
		byType:     byType,
	}
}

// SplitInventories overrides how inventory scopes are split, which otherwise follows the products format.
func (r *Reconciler) SplitInventories(byCategory bool, byType bool) *Reconciler {
	r.byCategory = byCategory
	r.byType = byType
	return r
}

// pass runs fn for one scope under the scope lock and inside one transaction, then records the run.
// A failing scope is rolled back entirely and reported with zero counts.
func (r *Reconciler) pass(ctx context.Context, scope string, target string, lockKey string, fn func(ctx context.Context, tx *gorm.DB, res *Result) error) (*Result, error) {
	ctx, correlationId := utils.EnsureCorrelationId(ctx)
	ctx, span := r.tracer.Start(ctx, "reconcile."+scope, trace.WithAttributes(
		attribute.String("rechu.scope", scope),
		attribute.String("rechu.target", target),
		attribute.String("rechu.correlation_id", correlationId),
	))
	defer span.End()

	res := NewResult()
	if err := ctx.Err(); err != nil {
		return res, err
	}
	unlock, err := r.locker.Lock(ctx, lockKey)
	if err != nil {
		config.LogError(r.logger, moduleName, "pass", "obtaining scope lock", lockKey, err)
		return res, err
	}
	defer unlock()

	started := time.Now()
	dryRun := utils.IsDryRun(ctx)
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := fn(ctx, tx, res); err != nil {
			return err
		}
		if dryRun {
			return errDryRun
		}
		return nil
	})

	status := models.ReconcileStatusSuccess
	switch {
	case errors.Is(err, errDryRun):
		err = nil
		status = models.ReconcileStatusDryRun
	case err != nil:
		status = models.ReconcileStatusFailed
		res.Created, res.Updated, res.Deleted = 0, 0, 0
		res.Stats = map[string]int{}
		res.Errors = append(res.Errors, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		config.LogError(r.logger, moduleName, "pass", scope, target, err)
	}
	span.SetAttributes(
		attribute.Int("rechu.created", res.Created),
		attribute.Int("rechu.updated", res.Updated),
		attribute.Int("rechu.deleted", res.Deleted),
	)

	r.recordRun(ctx, correlationId, scope, target, status, started, res)
	r.logger.WithFields(logrus.Fields{
		"module":         moduleName,
		"scope":          scope,
		"target":         target,
		"status":         status,
		"created":        res.Created,
		"updated":        res.Updated,
		"deleted":        res.Deleted,
		"correlation_id": correlationId,
	}).Info("reconcile pass finished")
	return res, err
}

func (r *Reconciler) recordRun(ctx context.Context, correlationId string, scope string, target string, status string, started time.Time, res *Result) {
	finished := time.Now()
	run := models.ReconcileRun{
		CorrelationId: correlationId,
		Scope:         scope,
		Target:        target,
		Status:        status,
		Created:       res.Created,
		Updated:       res.Updated,
		Deleted:       res.Deleted,
		ErrorCount:    len(res.Errors),
		StartedAt:     &started,
		FinishedAt:    &finished,
		DurationMs:    finished.Sub(started).Milliseconds(),
	}
	if operator, ok := utils.GetOperatorFromContext(ctx); ok {
		run.TriggeredBy = operator
	}
	if err := run.SetStats(res.Stats); err != nil {
		config.LogError(r.logger, moduleName, "recordRun", "encoding stats", res.Stats, err)
	}
	for _, failure := range res.Errors {
		entry := models.ReconcileError{Entity: scope, Key: target, Message: failure.Error()}
		var uerr *models.UniquenessError
		if errors.As(failure, &uerr) {
			entry.Entity, entry.Key = uerr.Entity, uerr.Field+"="+uerr.Value
		}
		run.Errors = append(run.Errors, entry)
	}
	// the run row is written outside the scope transaction so failures are kept too
	if err := models.RecordReconcileRun(ctx, r.db, &run); err != nil {
		config.LogError(r.logger, moduleName, "recordRun", "storing reconcile run", scope, err)
	}
}
