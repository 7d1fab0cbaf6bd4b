package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"docqa-platform/internal/apperrors"
	"docqa-platform/internal/logger"
	"docqa-platform/internal/sidestore"
	"docqa-platform/internal/telemetry"
	"docqa-platform/services"
)

// TaskCleaner purges job metadata older than a retention window.
type TaskCleaner interface {
	CleanupOldTasks(ctx context.Context, days int) (int, error)
}

type Processor struct {
	ingestion     *services.IngestionService
	qa            *services.QAService
	maintenance   *services.MaintenanceService
	side          *sidestore.Store
	cleaner       TaskCleaner
	metrics       *telemetry.Metrics
	retentionDays int
}

type ProcessorDeps struct {
	Ingestion     *services.IngestionService
	QA            *services.QAService
	Maintenance   *services.MaintenanceService
	Side          *sidestore.Store
	Cleaner       TaskCleaner
	Metrics       *telemetry.Metrics
	RetentionDays int
}

func NewProcessor(deps ProcessorDeps) *Processor {
	if deps.RetentionDays <= 0 {
		deps.RetentionDays = 7
	}
	return &Processor{
		ingestion:     deps.Ingestion,
		qa:            deps.QA,
		maintenance:   deps.Maintenance,
		side:          deps.Side,
		cleaner:       deps.Cleaner,
		metrics:       deps.Metrics,
		retentionDays: deps.RetentionDays,
	}
}

// Register installs every handler on mux.
func (p *Processor) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeDocumentIngest, p.HandleIngest)
	mux.HandleFunc(TypeDocumentDelete, p.HandleDelete)
	mux.HandleFunc(TypeDocumentBulkDelete, p.HandleBulkDelete)
	mux.HandleFunc(TypeQAAnswer, p.HandleAnswer)
	mux.HandleFunc(TypeQABatch, p.HandleBatch)
	mux.HandleFunc(TypeQASuggest, p.HandleSuggest)
	mux.HandleFunc(TypeQAAnalyze, p.HandleAnalyze)
	mux.HandleFunc(TypeUserUpdateStats, p.HandleUpdateStats)
	mux.HandleFunc(TypeUserCleanupExpired, p.HandleCleanupExpired)
	mux.HandleFunc(TypeUserCleanupInactive, p.HandleCleanupInactive)
	mux.HandleFunc(TypeUserReport, p.HandleReport)
	mux.HandleFunc(TypeUserExport, p.HandleExport)
	mux.HandleFunc(TypeUserNotify, p.HandleNotify)
	mux.HandleFunc(TypeUserBulkOperation, p.HandleBulkOperation)
	mux.HandleFunc(TypeMonitorCleanup, p.HandleMonitorCleanup)
}

type jobFunc func(ctx context.Context, progress services.ProgressFunc) (any, error)

// taskInfo reads the id and retry counters asynq puts on a handler context.
var taskInfo = func(ctx context.Context) (id string, retried, maxRetry int) {
	id, _ = asynq.GetTaskID(ctx)
	retried, _ = asynq.GetRetryCount(ctx)
	maxRetry, _ = asynq.GetMaxRetry(ctx)
	return id, retried, maxRetry
}

// run executes fn with progress reporting, stores its JSON result and maps
// non-retryable errors to asynq.SkipRetry.
func (p *Processor) run(ctx context.Context, t *asynq.Task, fn jobFunc) error {
	taskID, _, _ := taskInfo(ctx)
	log := logger.With("task_id", taskID, "task_type", t.Type())
	start := time.Now()

	ctx, span := telemetry.Tracer("queue").Start(ctx, "task "+t.Type())
	defer span.End()
	span.SetAttributes(attribute.String("task.id", taskID), attribute.String("task.type", t.Type()))

	meta, err := p.side.GetTaskMeta(ctx, taskID)
	if err != nil {
		log.Warn("Failed to load task metadata", "error", err)
	}
	if meta != nil && meta.State == sidestore.StateCancelled {
		log.Info("Skipping cancelled task")
		return nil
	}

	progress := func(ctx context.Context, pct int, msg string) {
		if err := p.side.UpdateProgress(ctx, taskID, pct, msg); err != nil {
			log.Warn("Failed to record progress", "progress", pct, "error", err)
		}
	}
	progress(ctx, 0, "")

	result, err := fn(ctx, progress)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.metrics.RecordTask(t.Type(), "error", elapsed)

		if p.wasCancelled(taskID) {
			log.Info("Task cancelled while running")
			return fmt.Errorf("task cancelled: %w", asynq.SkipRetry)
		}
		if !apperrors.IsRetryable(err) {
			log.Warn("Task failed permanently", "error", err)
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		log.Error("Task attempt failed", "error", err)
		return err
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result failed: %w", asynq.SkipRetry)
	}
	if rw := t.ResultWriter(); rw != nil {
		if _, err := rw.Write(raw); err != nil {
			log.Warn("Failed to write task result", "error", err)
		}
	}
	if err := p.side.Finish(ctx, taskID, sidestore.StateSucceeded, raw, ""); err != nil {
		log.Warn("Failed to record task completion", "error", err)
	}

	p.metrics.RecordTask(t.Type(), "success", elapsed)
	log.Info("Task completed", "duration_s", elapsed)
	return nil
}

func (p *Processor) wasCancelled(taskID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	meta, err := p.side.GetTaskMeta(ctx, taskID)
	return err == nil && meta != nil && meta.State == sidestore.StateCancelled
}

// HandleError is the asynq server ErrorHandler. It runs after every failed
// attempt and marks the job failed once no retry is left. The task context
// may already be done, so side-store writes use their own deadline.
func (p *Processor) HandleError(ctx context.Context, task *asynq.Task, err error) {
	taskID, retried, maxRetry := taskInfo(ctx)

	wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if errors.Is(err, asynq.SkipRetry) || retried >= maxRetry {
		fatal := apperrors.Fatal(taskID, err)
		logger.Error("Task failed", "task_id", taskID, "task_type", task.Type(), "retried", retried, "error", fatal)
		if serr := p.side.Finish(wctx, taskID, sidestore.StateFailed, nil, err.Error()); serr != nil {
			logger.Warn("Failed to record task failure", "task_id", taskID, "error", serr)
		}
		return
	}

	logger.Warn("Task will be retried", "task_id", taskID, "task_type", task.Type(), "retried", retried, "max_retry", maxRetry, "error", err)
	if serr := p.side.MarkRetrying(wctx, taskID, retried+1, err.Error()); serr != nil {
		logger.Warn("Failed to record task retry", "task_id", taskID, "error", serr)
	}
}

func decode(t *asynq.Task, v any) error {
	if err := json.Unmarshal(t.Payload(), v); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}
	return nil
}

func (p *Processor) HandleIngest(ctx context.Context, t *asynq.Task) error {
	var payload IngestPayload
	if err := decode(t, &payload); err != nil {
		return err
	}
	return p.run(ctx, t, func(ctx context.Context, progress services.ProgressFunc) (any, error) {
		return p.ingestion.Ingest(ctx, services.IngestRequest{
			UserID:   payload.UserID,
			Filename: payload.Filename,
			Content:  payload.Content,
		}, progress)
	})
}

func (p *Processor) HandleDelete(ctx context.Context, t *asynq.Task) error {
	var payload DeletePayload
	if err := decode(t, &payload); err != nil {
		return err
	}
	return p.run(ctx, t, func(ctx context.Context, progress services.ProgressFunc) (any, error) {
		return p.ingestion.DeleteDocument(ctx, payload.UserID, payload.DocumentID)
	})
}

func (p *Processor) HandleBulkDelete(ctx context.Context, t *asynq.Task) error {
	var payload BulkDeletePayload
	if err := decode(t, &payload); err != nil {
		return err
	}
	return p.run(ctx, t, func(ctx context.Context, progress services.ProgressFunc) (any, error) {
		if len(payload.DocumentIDs) == 0 {
			return p.ingestion.DeleteAllForUser(ctx, payload.UserID)
		}
		return p.ingestion.DeleteDocuments(ctx, payload.UserID, payload.DocumentIDs, progress)
	})
}

func (p *Processor) HandleAnswer(ctx context.Context, t *asynq.Task) error {
	var payload AnswerPayload
	if err := decode(t, &payload); err != nil {
		return err
	}
	return p.run(ctx, t, func(ctx context.Context, progress services.ProgressFunc) (any, error) {
		return p.qa.Ask(ctx, services.AskRequest{
			UserID:   payload.UserID,
			Question: payload.Question,
			Context:  payload.Context,
		}, progress)
	})
}

func (p *Processor) HandleBatch(ctx context.Context, t *asynq.Task) error {
	var payload BatchPayload
	if err := decode(t, &payload); err != nil {
		return err
	}
	return p.run(ctx, t, func(ctx context.Context, progress services.ProgressFunc) (any, error) {
		return p.qa.AnswerBatch(ctx, payload.UserID, payload.Questions, progress)
	})
}

func (p *Processor) HandleSuggest(ctx context.Context, t *asynq.Task) error {
	var payload SuggestPayload
	if err := decode(t, &payload); err != nil {
		return err
	}
	return p.run(ctx, t, func(ctx context.Context, progress services.ProgressFunc) (any, error) {
		return p.qa.GenerateSuggestions(ctx, payload.UserID, payload.DocumentID)
	})
}

func (p *Processor) HandleAnalyze(ctx context.Context, t *asynq.Task) error {
	var payload DaysPayload
	if err := decode(t, &payload); err != nil {
		return err
	}
	return p.run(ctx, t, func(ctx context.Context, progress services.ProgressFunc) (any, error) {
		return p.qa.AnalyzeQueryPatterns(ctx, payload.UserID, payload.Days)
	})
}

func (p *Processor) HandleUpdateStats(ctx context.Context, t *asynq.Task) error {
	return p.run(ctx, t, func(ctx context.Context, progress services.ProgressFunc) (any, error) {
		return p.maintenance.UpdateUserStats(ctx, progress)
	})
}

func (p *Processor) HandleCleanupExpired(ctx context.Context, t *asynq.Task) error {
	return p.run(ctx, t, func(ctx context.Context, progress services.ProgressFunc) (any, error) {
		return p.maintenance.CleanupExpiredKeys(ctx)
	})
}

func (p *Processor) HandleCleanupInactive(ctx context.Context, t *asynq.Task) error {
	var payload DaysPayload
	if err := decode(t, &payload); err != nil {
		return err
	}
	return p.run(ctx, t, func(ctx context.Context, progress services.ProgressFunc) (any, error) {
		return p.maintenance.CleanupInactiveUsers(ctx, payload.Days, progress)
	})
}

func (p *Processor) HandleReport(ctx context.Context, t *asynq.Task) error {
	var payload DaysPayload
	if err := decode(t, &payload); err != nil {
		return err
	}
	return p.run(ctx, t, func(ctx context.Context, progress services.ProgressFunc) (any, error) {
		return p.maintenance.GenerateUserReport(ctx, payload.UserID, payload.Days)
	})
}

func (p *Processor) HandleExport(ctx context.Context, t *asynq.Task) error {
	var payload ExportPayload
	if err := decode(t, &payload); err != nil {
		return err
	}
	return p.run(ctx, t, func(ctx context.Context, progress services.ProgressFunc) (any, error) {
		return p.maintenance.ExportUserData(ctx, payload.UserID, progress)
	})
}

func (p *Processor) HandleNotify(ctx context.Context, t *asynq.Task) error {
	var payload NotifyPayload
	if err := decode(t, &payload); err != nil {
		return err
	}
	return p.run(ctx, t, func(ctx context.Context, progress services.ProgressFunc) (any, error) {
		return p.maintenance.SendNotification(ctx, payload)
	})
}

func (p *Processor) HandleBulkOperation(ctx context.Context, t *asynq.Task) error {
	var payload BulkOperationPayload
	if err := decode(t, &payload); err != nil {
		return err
	}
	return p.run(ctx, t, func(ctx context.Context, progress services.ProgressFunc) (any, error) {
		return p.maintenance.ProcessBulkOperation(ctx, payload.OperationType, payload.UserIDs, payload.OperationData, progress)
	})
}

func (p *Processor) HandleMonitorCleanup(ctx context.Context, t *asynq.Task) error {
	var payload DaysPayload
	if err := decode(t, &payload); err != nil {
		return err
	}
	days := payload.Days
	if days <= 0 {
		days = p.retentionDays
	}
	return p.run(ctx, t, func(ctx context.Context, progress services.ProgressFunc) (any, error) {
		if p.cleaner == nil {
			return nil, apperrors.Validation("task cleanup is not configured")
		}
		n, err := p.cleaner.CleanupOldTasks(ctx, days)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"status":        services.StatusSuccess,
			"cleaned_tasks": n,
			"message":       fmt.Sprintf("Cleaned up %d old tasks", n),
		}, nil
	})
}
