// Package model defines core types shared across subsystems.
package model

import (
	"time"
)

// RunStatus represents the lifecycle state of a model run.
type RunStatus string

// Run status values persisted in the run store.
const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// Terminal reports whether the status is a final state. Terminal runs
// never transition again.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCanceled:
		return true
	default:
		return false
	}
}

// Model kinds.
const (
	KindBuiltin = "builtin"
	KindSheet   = "sheet"
)

// RunParameters captures a run request as submitted by the client.
type RunParameters struct {
	ModelID string `json:"model_id"`
	// Overrides maps flattened parameter labels to replacement values.
	// Values are kept as strings until parsed by the model.
	Overrides map[string]string `json:"params,omitempty"`
	// LabelOverrides renames scenario columns in the result tables.
	LabelOverrides map[string]string `json:"label_overrides,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
	Tags           map[string]string `json:"tags,omitempty"`
}

// Run represents the metadata persisted for each submitted run.
type Run struct {
	ID         string        `json:"id"`
	Status     RunStatus     `json:"status"`
	Submitted  time.Time     `json:"submitted_at"`
	Started    *time.Time    `json:"started_at,omitempty"`
	Finished   *time.Time    `json:"finished_at,omitempty"`
	ErrorText  string        `json:"error_text,omitempty"`
	Parameters RunParameters `json:"parameters"`
	Counters   RunCounters   `json:"counters"`
}

// RunCounters tracks evaluation stats per run.
type RunCounters struct {
	TablesBuilt    int `json:"tables_built"`
	CellsEvaluated int `json:"cells_evaluated"`
	FormulaErrors  int `json:"formula_errors"`
}

// Table is a rectangular block of display-ready cells.
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Block is one content unit inside a section: a table or a text note.
type Block struct {
	Table *Table `json:"table,omitempty"`
	Text  string `json:"text,omitempty"`
}

// Section groups blocks under a title, in document order.
type Section struct {
	Title  string  `json:"title"`
	Blocks []Block `json:"blocks"`
}

// EvalStats reports formula engine activity for a run.
type EvalStats struct {
	Cells  int64 `json:"cells"`
	Errors int64 `json:"errors"`
}

// Result is what a model produces for one run.
type Result struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Sections    []Section `json:"sections"`
	Stats       EvalStats `json:"stats"`
}

// ResultRecord is the persisted form of a finished run's output.
type ResultRecord struct {
	RunID       string    `json:"run_id"`
	Result      Result    `json:"result"`
	ArtifactURI string    `json:"artifact_uri,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RunResult is returned by the API result endpoint.
type RunResult struct {
	Run    Run    `json:"run"`
	Result Result `json:"result"`
}

// QueueItem wraps a run ready to execute.
type QueueItem struct {
	RunID     string
	Params    RunParameters
	Attempt   int
	Submitted int64
}

// TableCount returns the number of tables across all sections.
func (r Result) TableCount() int {
	n := 0
	for _, s := range r.Sections {
		for _, b := range s.Blocks {
			if b.Table != nil {
				n++
			}
		}
	}
	return n
}
