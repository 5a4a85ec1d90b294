package task

import (
	"context"
	"sync"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusCancelled
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed || next == StatusCancelled
	default:
		return false
	}
}

// Callbacks are invoked from worker goroutines, one at a time per task.
// OnStatusChange receives a non-nil error only for failed and cancelled.
type Callbacks struct {
	OnProgress     func(percent float64)
	OnStatusChange func(status Status, err error)
}

// Task is owned by the Manager; fields are guarded by Manager.mu.
type Task struct {
	ID            string
	URL           string
	OutputDir     string
	FormatOptions map[string]string
	Playlist      bool

	Status     Status
	Progress   float64
	Err        error
	Attempts   int
	Title      string
	OutputFile string
	RemoteKey  string

	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time

	callbacks Callbacks
	cbMu      sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
}

// Snapshot is an immutable copy of a task's state.
type Snapshot struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	OutputDir     string            `json:"output_dir"`
	FormatOptions map[string]string `json:"format_options"`
	Status        Status            `json:"status"`
	Progress      float64           `json:"progress"`
	Error         string            `json:"error,omitempty"`
	Attempts      int               `json:"attempts"`
	Title         string            `json:"title,omitempty"`
	OutputFile    string            `json:"output_file,omitempty"`
	RemoteKey     string            `json:"remote_key,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	StartedAt     *time.Time        `json:"started_at,omitempty"`
	FinishedAt    *time.Time        `json:"finished_at,omitempty"`
}

func (t *Task) snapshot() Snapshot {
	s := Snapshot{
		ID:            t.ID,
		URL:           t.URL,
		OutputDir:     t.OutputDir,
		FormatOptions: cloneOptions(t.FormatOptions),
		Status:        t.Status,
		Progress:      t.Progress,
		Attempts:      t.Attempts,
		Title:         t.Title,
		OutputFile:    t.OutputFile,
		RemoteKey:     t.RemoteKey,
		CreatedAt:     t.CreatedAt,
	}
	if t.Err != nil {
		s.Error = t.Err.Error()
	}
	if !t.StartedAt.IsZero() {
		started := t.StartedAt
		s.StartedAt = &started
	}
	if !t.FinishedAt.IsZero() {
		finished := t.FinishedAt
		s.FinishedAt = &finished
	}
	return s
}

// Options configure a Manager. Zero values select defaults.
type Options struct {
	MaxWorkers        int
	MaxRetries        int
	RetryDelay        time.Duration
	URLPattern        string
	MinFreeSpace      uint64
	DefaultOutputDir  string
	InfoTimeout       time.Duration
	FinishedRetention int
}

const (
	defaultMaxWorkers        = 2
	defaultMaxRetries        = 3
	defaultRetryDelay        = 5 * time.Second
	defaultMinFreeSpace      = 1 << 30
	defaultInfoTimeout       = 30 * time.Second
	defaultFinishedRetention = 1000
)

func cloneOptions(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
