package task

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"mediaqueue/internal/cache"
	"mediaqueue/internal/fetcher"
	fileutil "mediaqueue/internal/file"
	"mediaqueue/internal/history"
	"mediaqueue/internal/publish"
	"mediaqueue/internal/ratelimit"
	"mediaqueue/internal/storage"
	"mediaqueue/internal/worker"
)

// Deps are the collaborators a Manager drives. Only Fetcher is required;
// a nil Cache or History is replaced by one kept in memory.
type Deps struct {
	Fetcher   fetcher.Fetcher
	Cache     *cache.Store
	History   *history.Store
	Limiter   *ratelimit.Limiter
	Publisher publish.Publisher
	// FreeSpace defaults to file.FreeSpace.
	FreeSpace func(path string) (uint64, error)
}

// Manager accepts download requests, runs them on a worker pool and keeps
// their state queryable after they finish.
type Manager struct {
	mu            sync.RWMutex
	active        map[string]*Task
	finished      map[string]Snapshot
	finishedOrder []string
	closing       bool

	opts       Options
	urlPattern *regexp.Regexp
	fetcher    fetcher.Fetcher
	cache      *cache.Store
	history    *history.Store
	limiter    *ratelimit.Limiter
	publisher  publish.Publisher
	freeSpace  func(string) (uint64, error)

	pool       *worker.Pool
	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// NewManager validates options, applies defaults and starts the workers.
func NewManager(opts Options, deps Deps) (*Manager, error) {
	if deps.Fetcher == nil {
		return nil, errors.New("task manager: nil fetcher")
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = defaultMaxWorkers
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.MinFreeSpace == 0 {
		opts.MinFreeSpace = defaultMinFreeSpace
	}
	if opts.URLPattern == "" {
		opts.URLPattern = DefaultURLPattern
	}
	if opts.InfoTimeout <= 0 {
		opts.InfoTimeout = defaultInfoTimeout
	}
	if opts.FinishedRetention <= 0 {
		opts.FinishedRetention = defaultFinishedRetention
	}
	pattern, err := regexp.Compile(opts.URLPattern)
	if err != nil {
		return nil, fmt.Errorf("task manager: url pattern: %w", err)
	}

	limiter := deps.Limiter
	if limiter == nil {
		if limiter, err = ratelimit.New(30, time.Minute, 10, 0); err != nil {
			return nil, fmt.Errorf("task manager: %w", err)
		}
	}
	metaCache := deps.Cache
	if metaCache == nil {
		if metaCache, err = cache.Open(context.Background(), storage.NewMemoryStore(), cache.Options{}); err != nil {
			return nil, fmt.Errorf("task manager: %w", err)
		}
	}
	hist := deps.History
	if hist == nil {
		if hist, err = history.Open(context.Background(), storage.NewMemoryStore(), 0); err != nil {
			return nil, fmt.Errorf("task manager: %w", err)
		}
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = publish.Nop{}
	}
	freeSpace := deps.FreeSpace
	if freeSpace == nil {
		freeSpace = fileutil.FreeSpace
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Manager{
		active:     make(map[string]*Task),
		finished:   make(map[string]Snapshot),
		opts:       opts,
		urlPattern: pattern,
		fetcher:    deps.Fetcher,
		cache:      metaCache,
		history:    hist,
		limiter:    limiter,
		publisher:  publisher,
		freeSpace:  freeSpace,
		pool:       worker.New(baseCtx, opts.MaxWorkers),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}, nil
}

// Submit validates the request synchronously and queues it. The returned
// ID is valid for GetStatus and Cancel immediately.
func (m *Manager) Submit(url, outputDir string, formatOptions map[string]string, cb Callbacks) (string, error) {
	if outputDir == "" {
		outputDir = m.opts.DefaultOutputDir
	}
	sub := &submission{
		URL:       strings.TrimSpace(url),
		OutputDir: outputDir,
		Format:    fetcher.FormatFromOptions(formatOptions),
	}

	m.mu.RLock()
	closing := m.closing
	m.mu.RUnlock()
	if closing {
		return "", ErrShuttingDown
	}
	if err := m.validate(sub); err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(m.baseCtx)
	t := &Task{
		ID:            uuid.NewString(),
		URL:           sub.URL,
		OutputDir:     sub.OutputDir,
		FormatOptions: sub.Format.Options(),
		Playlist:      playlistPattern.MatchString(sub.URL),
		Status:        StatusPending,
		CreatedAt:     time.Now(),
		callbacks:     cb,
		ctx:           ctx,
		cancel:        cancel,
	}

	// the pool is closed only after closing is set, so holding mu keeps
	// registration and enqueueing atomic with respect to Shutdown
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		cancel()
		return "", ErrShuttingDown
	}
	if err := m.pool.Submit(func(context.Context) { m.run(t) }); err != nil {
		m.mu.Unlock()
		cancel()
		return "", ErrShuttingDown
	}
	m.active[t.ID] = t
	m.mu.Unlock()

	log.Info().Str("task_id", t.ID).Str("url", t.URL).Str("output_dir", t.OutputDir).Msg("download queued")
	return t.ID, nil
}

// GetStatus returns a snapshot of an active or recently finished task.
func (m *Manager) GetStatus(id string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.active[id]; ok {
		return t.snapshot(), nil
	}
	if s, ok := m.finished[id]; ok {
		return s, nil
	}
	return Snapshot{}, &NotFoundError{ID: id}
}

// List returns active tasks oldest first.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	out := make([]Snapshot, 0, len(m.active))
	for _, t := range m.active {
		out = append(out, t.snapshot())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Cancel stops a task. Pending tasks become cancelled at once; running
// tasks are interrupted and finalized by their worker. Cancelling a
// finished task is a no-op.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	t, ok := m.active[id]
	if !ok {
		_, done := m.finished[id]
		m.mu.Unlock()
		if done {
			return nil
		}
		return &NotFoundError{ID: id}
	}
	switch t.Status {
	case StatusPending:
		snap, _ := m.terminateLocked(t, StatusCancelled, ErrCancelled)
		m.mu.Unlock()
		m.afterTerminate(t, snap, ErrCancelled)
	case StatusRunning:
		m.mu.Unlock()
		log.Info().Str("task_id", id).Msg("cancel requested for running download")
		t.cancel()
	default:
		m.mu.Unlock()
	}
	return nil
}

// Info returns metadata for url, from cache when fresh, otherwise probed
// under the rate limiter.
func (m *Manager) Info(ctx context.Context, url string) ([]byte, error) {
	url = strings.TrimSpace(url)
	if err := m.validateURL(url); err != nil {
		return nil, err
	}
	return m.metadata(ctx, url, m.opts.InfoTimeout)
}

func (m *Manager) History(limit int) []history.Entry {
	return m.history.Recent(limit)
}

func (m *Manager) ClearHistory() error {
	return m.history.Clear() //nolint:wrapcheck
}

type Stats struct {
	Workers int `json:"workers"`
	Busy    int `json:"busy"`
	Queued  int `json:"queued"`
	Active  int `json:"active"`
	// Tokens left in the metadata rate limiter.
	Tokens float64 `json:"rate_limit_tokens"`
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	active := len(m.active)
	m.mu.RUnlock()
	return Stats{
		Workers: m.pool.Size(),
		Busy:    m.pool.Busy(),
		Queued:  m.pool.Queued(),
		Active:  active,
		Tokens:  m.limiter.Tokens(),
	}
}

// Shutdown rejects new work, cancels every pending and running task and
// waits for the workers to exit or ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.Cancel(id)
	}
	m.pool.Close()
	err := m.pool.Wait(ctx)
	m.baseCancel()
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Int("cancelled", len(ids)).Msg("download manager stopped")
	return nil
}

// finish moves t to a terminal status exactly once, then notifies and
// records it. It reports whether this call performed the transition.
func (m *Manager) finish(t *Task, status Status, err error) bool {
	m.mu.Lock()
	snap, ok := m.terminateLocked(t, status, err)
	m.mu.Unlock()
	if !ok {
		return false
	}
	if status == StatusCompleted {
		err = nil
	}
	m.afterTerminate(t, snap, err)
	return true
}

// terminateLocked applies a terminal transition and moves t from the active
// set to the finished set. Caller holds mu.
func (m *Manager) terminateLocked(t *Task, status Status, err error) (Snapshot, bool) {
	if !t.Status.CanTransition(status) {
		return Snapshot{}, false
	}
	t.Status = status
	t.FinishedAt = time.Now()
	if status == StatusCompleted {
		t.Progress = 100
		t.Err = nil
	} else {
		t.Err = err
	}
	snap := t.snapshot()
	delete(m.active, t.ID)
	m.remember(snap)
	return snap, true
}

func (m *Manager) afterTerminate(t *Task, snap Snapshot, err error) {
	t.cancel()
	m.notifyStatus(t, snap.Status, err)
	m.record(snap)
}

// remember keeps a bounded set of finished snapshots. Caller holds mu.
func (m *Manager) remember(s Snapshot) {
	m.finished[s.ID] = s
	m.finishedOrder = append(m.finishedOrder, s.ID)
	for len(m.finishedOrder) > m.opts.FinishedRetention {
		delete(m.finished, m.finishedOrder[0])
		m.finishedOrder = m.finishedOrder[1:]
	}
}

func (m *Manager) record(s Snapshot) {
	entry := history.Entry{
		TaskID:        s.ID,
		URL:           s.URL,
		Title:         s.Title,
		FormatOptions: s.FormatOptions,
		OutputPath:    s.OutputFile,
		Status:        string(s.Status),
		Error:         s.Error,
		Attempts:      s.Attempts,
	}
	if entry.OutputPath == "" {
		// nothing was written; point at the target directory
		entry.OutputPath = s.OutputDir
	}
	if s.FinishedAt != nil {
		entry.Timestamp = *s.FinishedAt
	}
	if err := m.history.Append(entry); err != nil {
		log.Warn().Str("task_id", s.ID).Err(err).Msg("persist history entry failed")
	}
}
