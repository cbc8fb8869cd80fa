package model

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrRunNotFound is returned by run stores when no run matches the ID.
var ErrRunNotFound = errors.New("run not found")

// ErrResultNotFound is returned when a run exists but has no result yet.
var ErrResultNotFound = errors.New("run result not found")

// ErrRunFinished is returned when a status update targets a run that has
// already reached a terminal state.
var ErrRunFinished = errors.New("run already finished")

// ErrQueueClosed is returned by Dequeue after the queue shuts down.
var ErrQueueClosed = errors.New("queue closed")

// Model is one runnable simulation. Implementations must be safe for
// concurrent Run calls; Defaults may open files and should honor ctx.
type Model interface {
	ID() string
	Title() string
	Description() string
	// Kind distinguishes built-in models from spreadsheet models.
	Kind() string
	// Defaults returns the ordered default parameters for the model.
	Defaults(ctx context.Context) (Params, error)
	// Run executes the model. Label overrides rename scenario columns.
	Run(ctx context.Context, params Params, labels map[string]string) (Result, error)
}

// RunStore persists run and result metadata.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateRunStatus(ctx context.Context, runID string, status RunStatus, errText string, counters RunCounters) error
	RecordResult(ctx context.Context, rec ResultRecord) error
	GetRun(ctx context.Context, runID string) (Run, error)
	GetResult(ctx context.Context, runID string) (ResultRecord, error)
	ListRuns(ctx context.Context, limit, offset int) ([]Run, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for pending runs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Policy gates run admission, e.g. to cap in-flight workbook evaluations.
type Policy interface {
	AllowRun(runID string, modelID string) bool
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
