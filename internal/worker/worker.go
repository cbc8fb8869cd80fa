// Package worker implements the run execution loop.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/epiworldlab/epirunner/internal/metrics"
	"github.com/epiworldlab/epirunner/internal/model"
	"github.com/epiworldlab/epirunner/internal/progress"
)

// Config controls Worker behavior.
type Config struct {
	ContentType string
	BlobPrefix  string
	Topic       string
	// RunTimeout bounds a single model evaluation when the request does
	// not carry its own timeout.
	RunTimeout time.Duration
}

// Worker consumes queue items and executes the run pipeline.
type Worker struct {
	queue     model.Queue
	registry  *model.Registry
	runStore  model.RunStore
	blobStore model.BlobStore
	publisher model.Publisher
	hasher    model.Hasher
	clock     model.Clock
	policy    model.Policy
	progress  progress.Emitter
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	queue model.Queue,
	registry *model.Registry,
	runStore model.RunStore,
	blobStore model.BlobStore,
	publisher model.Publisher,
	hasher model.Hasher,
	clock model.Clock,
	policy model.Policy,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "application/json"
	}
	return &Worker{
		queue:     queue,
		registry:  registry,
		runStore:  runStore,
		blobStore: blobStore,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		policy:    policy,
		progress:  emitter,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, model.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued run", zap.String("run_id", item.RunID))
		w.processRun(ctx, item)
	}
}

// waiter is satisfied by throttles that can block until admission.
type waiter interface {
	Wait(ctx context.Context, modelID string) error
}

func (w *Worker) processRun(ctx context.Context, item model.QueueItem) {
	// A run canceled while still queued must stay canceled.
	if run, err := w.runStore.GetRun(ctx, item.RunID); err == nil && run.Status.Terminal() {
		w.logger.Debug("skipping finished run",
			zap.String("run_id", item.RunID),
			zap.String("status", string(run.Status)))
		return
	}

	mdl, ok := w.registry.Get(item.Params.ModelID)
	if !ok {
		w.failRun(ctx, item, fmt.Sprintf("unknown model %q", item.Params.ModelID), model.RunCounters{})
		return
	}

	if err := w.admit(ctx, item); err != nil {
		w.failRun(ctx, item, err.Error(), model.RunCounters{})
		return
	}

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	runID := w.progressID(item.RunID)
	start := w.clock.Now()
	w.emit(progress.Event{
		RunID: runID,
		TS:    start,
		Stage: progress.StageRunStart,
		Model: item.Params.ModelID,
	})

	if err := w.runStore.UpdateRunStatus(ctx, item.RunID, model.RunStatusRunning, "", model.RunCounters{}); err != nil {
		if errors.Is(err, model.ErrRunFinished) {
			w.logger.Debug("run finished before execution", zap.String("run_id", item.RunID))
			return
		}
		w.logger.Error("update run status failed", zap.String("run_id", item.RunID), zap.Error(err))
		return
	}

	res, err := w.evaluate(ctx, mdl, item)
	elapsed := w.clock.Now().Sub(start)
	counters := model.RunCounters{
		TablesBuilt:    res.TableCount(),
		CellsEvaluated: int(res.Stats.Cells),
		FormulaErrors:  int(res.Stats.Errors),
	}
	if err != nil {
		status := "failed"
		if ctx.Err() != nil {
			status = "canceled"
		}
		metrics.ObserveRun(item.Params.ModelID, status, elapsed)
		w.emit(progress.Event{
			RunID: runID,
			TS:    w.clock.Now(),
			Stage: progress.StageRunError,
			Model: item.Params.ModelID,
			Dur:   elapsed,
			Note:  err.Error(),
		})
		w.failRun(ctx, item, err.Error(), counters)
		return
	}

	if err := w.persistAndPublish(ctx, item, res); err != nil {
		metrics.ObserveRun(item.Params.ModelID, "failed", elapsed)
		w.emit(progress.Event{
			RunID: runID,
			TS:    w.clock.Now(),
			Stage: progress.StageRunError,
			Model: item.Params.ModelID,
			Dur:   elapsed,
			Note:  err.Error(),
		})
		w.failRun(ctx, item, err.Error(), counters)
		return
	}

	if err := w.runStore.UpdateRunStatus(ctx, item.RunID, model.RunStatusSucceeded, "", counters); err != nil {
		if errors.Is(err, model.ErrRunFinished) {
			w.logger.Debug("run canceled during execution", zap.String("run_id", item.RunID))
		} else {
			w.logger.Error("final run status update failed", zap.String("run_id", item.RunID), zap.Error(err))
		}
	}
	metrics.ObserveRun(item.Params.ModelID, "succeeded", elapsed)
	metrics.ObserveEvaluation(item.Params.ModelID, res.Stats.Cells, res.Stats.Errors)
	w.emit(progress.Event{
		RunID:  runID,
		TS:     w.clock.Now(),
		Stage:  progress.StageEvalDone,
		Model:  item.Params.ModelID,
		Tables: int64(counters.TablesBuilt),
		Cells:  res.Stats.Cells,
		Errors: res.Stats.Errors,
		Dur:    elapsed,
	})
	w.emit(progress.Event{
		RunID: runID,
		TS:    w.clock.Now(),
		Stage: progress.StageRunDone,
		Model: item.Params.ModelID,
		Dur:   elapsed,
	})
	w.logger.Info("run completed",
		zap.String("run_id", item.RunID),
		zap.String("model", item.Params.ModelID),
		zap.Int("tables", counters.TablesBuilt),
		zap.Int("cells", counters.CellsEvaluated),
		zap.Int("formula_errors", counters.FormulaErrors),
		zap.Duration("dur", elapsed),
	)
}

// admit blocks on throttling policies and rejects runs denied outright.
func (w *Worker) admit(ctx context.Context, item model.QueueItem) error {
	if w.policy == nil {
		return nil
	}
	if wtr, ok := w.policy.(waiter); ok {
		if err := wtr.Wait(ctx, item.Params.ModelID); err != nil {
			return fmt.Errorf("run admission: %w", err)
		}
		return nil
	}
	if !w.policy.AllowRun(item.RunID, item.Params.ModelID) {
		return fmt.Errorf("run admission denied for model %q", item.Params.ModelID)
	}
	return nil
}

func (w *Worker) evaluate(ctx context.Context, mdl model.Model, item model.QueueItem) (model.Result, error) {
	timeout := w.cfg.RunTimeout
	if item.Params.TimeoutSeconds > 0 {
		timeout = time.Duration(item.Params.TimeoutSeconds) * time.Second
	}
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	params, err := mdl.Defaults(runCtx)
	if err != nil {
		return model.Result{}, fmt.Errorf("model defaults: %w", err)
	}
	params.ApplyOverrides(item.Params.Overrides)

	res, err := mdl.Run(runCtx, params, item.Params.LabelOverrides)
	if err != nil {
		return res, fmt.Errorf("model run: %w", err)
	}
	return res, nil
}

func (w *Worker) persistAndPublish(ctx context.Context, item model.QueueItem, res model.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	hash, err := w.hasher.Hash(data)
	if err != nil {
		return fmt.Errorf("hash result: %w", err)
	}

	uri := ""
	if w.blobStore != nil {
		uri, err = w.blobStore.PutObject(ctx, w.buildBlobPath(item.RunID), w.cfg.ContentType, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("put object: %w", err)
		}
	}

	rec := model.ResultRecord{
		RunID:       item.RunID,
		Result:      res,
		ArtifactURI: uri,
		ContentHash: hash,
		CreatedAt:   w.clock.Now(),
	}
	if err := w.runStore.RecordResult(ctx, rec); err != nil {
		return fmt.Errorf("record result: %w", err)
	}

	return w.publishResult(ctx, item, uri, hash, res)
}

func (w *Worker) publishResult(
	ctx context.Context,
	item model.QueueItem,
	uri string,
	hash string,
	res model.Result,
) error {
	if w.cfg.Topic == "" || w.publisher == nil {
		return nil
	}
	payload := map[string]any{
		"run_id":       item.RunID,
		"model_id":     item.Params.ModelID,
		"status":       string(model.RunStatusSucceeded),
		"artifact_uri": uri,
		"hash":         hash,
		"timestamp":    w.clock.Now().Format(time.RFC3339),
		"tables":       res.TableCount(),
		"cells":        res.Stats.Cells,
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		return fmt.Errorf("publish payload: %w", err)
	}
	w.logger.Info("run published",
		zap.String("run_id", item.RunID),
		zap.String("model", item.Params.ModelID),
		zap.String("artifact_uri", uri),
		zap.String("hash", hash),
	)
	return nil
}

func (w *Worker) failRun(
	ctx context.Context,
	item model.QueueItem,
	errText string,
	counters model.RunCounters,
) {
	status := model.RunStatusFailed
	if ctx.Err() != nil {
		status = model.RunStatusCanceled
	}
	w.logger.Error("run failed",
		zap.String("run_id", item.RunID),
		zap.String("model", item.Params.ModelID),
		zap.String("status", string(status)),
		zap.String("error", errText),
	)
	if err := w.runStore.UpdateRunStatus(ctx, item.RunID, status, errText, counters); err != nil && !errors.Is(err, model.ErrRunFinished) {
		w.logger.Error("fail run status update", zap.String("run_id", item.RunID), zap.Error(err))
	}
}

func (w *Worker) buildBlobPath(runID string) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("runs/%s/result.json", runID)
	}
	return fmt.Sprintf("%s/runs/%s/result.json", prefix, runID)
}

func (w *Worker) emit(evt progress.Event) {
	if w.progress == nil || evt.RunID == [16]byte{} {
		return
	}
	w.progress.Emit(evt)
}

func (w *Worker) progressID(runID string) [16]byte {
	id, err := uuid.Parse(runID)
	if err != nil {
		return [16]byte{}
	}
	return progress.UUIDToBytes(id)
}
