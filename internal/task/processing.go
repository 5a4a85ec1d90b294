package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"mediaqueue/internal/fetcher"
)

// run executes one task on a worker goroutine.
func (m *Manager) run(t *Task) {
	m.mu.Lock()
	if t.Status != StatusPending {
		// cancelled while queued
		m.mu.Unlock()
		return
	}
	t.Status = StatusRunning
	t.StartedAt = time.Now()
	m.mu.Unlock()
	m.notifyStatus(t, StatusRunning, nil)

	ctx := t.ctx
	m.lookupTitle(ctx, t)

	res, err := m.download(ctx, t)
	switch {
	case err == nil:
		m.mu.Lock()
		t.OutputFile = res.OutputFile
		m.mu.Unlock()
		m.publishOutput(t, res.OutputFile)
		m.finish(t, StatusCompleted, nil)
		log.Info().Str("task_id", t.ID).Str("output", res.OutputFile).Msg("download completed")
	case errors.Is(err, ErrCancelled):
		m.finish(t, StatusCancelled, ErrCancelled)
		log.Info().Str("task_id", t.ID).Msg("download cancelled")
	default:
		m.finish(t, StatusFailed, err)
		log.Error().Str("task_id", t.ID).Str("url", t.URL).Err(err).Msg("download failed")
	}
}

// download makes up to MaxRetries attempts with RetryDelay between them.
// Cancellation is never retried.
func (m *Manager) download(ctx context.Context, t *Task) (fetcher.Result, error) {
	req := fetcher.Request{
		URL:       t.URL,
		OutputDir: t.OutputDir,
		Format:    fetcher.FormatFromOptions(t.FormatOptions),
		Playlist:  t.Playlist,
	}
	onProgress := func(p float64) { m.reportProgress(t, p) }

	var lastErr error
	for attempt := 1; attempt <= m.opts.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return fetcher.Result{}, ErrCancelled
		}
		m.mu.Lock()
		t.Attempts = attempt
		m.mu.Unlock()

		res, err := m.fetcher.Fetch(ctx, req, onProgress)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return fetcher.Result{}, ErrCancelled
		}
		lastErr = newFetchError(attempt, err)
		log.Warn().Str("task_id", t.ID).Int("attempt", attempt).Int("max_attempts", m.opts.MaxRetries).Err(err).Msg("download attempt failed")

		if attempt == m.opts.MaxRetries {
			break
		}
		timer := time.NewTimer(m.opts.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fetcher.Result{}, ErrCancelled
		case <-timer.C:
		}
	}
	return fetcher.Result{}, lastErr
}

func newFetchError(attempt int, err error) *FetchError {
	fe := &FetchError{Attempt: attempt, ExitCode: -1, Err: err}
	var ee *fetcher.ExitError
	if errors.As(err, &ee) {
		fe.ExitCode = ee.Code
		fe.Stderr = ee.Stderr
	}
	return fe
}

// lookupTitle fills t.Title from metadata without waiting on the limiter.
// Failures only cost the title.
func (m *Manager) lookupTitle(ctx context.Context, t *Task) {
	meta, err := m.metadata(ctx, t.URL, 0)
	if err != nil {
		if ctx.Err() == nil {
			log.Debug().Str("task_id", t.ID).Err(err).Msg("metadata lookup skipped")
		}
		return
	}
	if title := fetcher.Title(meta); title != "" {
		m.mu.Lock()
		t.Title = title
		m.mu.Unlock()
	}
}

// metadata serves url from cache, or probes it once the limiter grants a
// token within wait.
func (m *Manager) metadata(ctx context.Context, url string, wait time.Duration) ([]byte, error) {
	if meta, ok := m.cache.Get(url); ok {
		return meta, nil
	}
	if !m.limiter.Acquire(ctx, wait) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("metadata: %w", err)
		}
		return nil, ErrRateLimitExceeded
	}
	meta, err := m.fetcher.Probe(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", url, err)
	}
	if err := m.cache.Set(url, meta); err != nil {
		log.Warn().Str("url", url).Err(err).Msg("persist metadata cache failed")
	}
	return meta, nil
}

// reportProgress forwards strictly increasing progress while t is running.
func (m *Manager) reportProgress(t *Task, p float64) {
	p = min(max(p, 0), 100)
	m.mu.Lock()
	if t.Status != StatusRunning || p <= t.Progress {
		m.mu.Unlock()
		return
	}
	t.Progress = p
	m.mu.Unlock()

	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	if t.callbacks.OnProgress != nil {
		safeCallback(t.ID, func() { t.callbacks.OnProgress(p) })
	}
}

func (m *Manager) notifyStatus(t *Task, status Status, err error) {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	if t.callbacks.OnStatusChange != nil {
		safeCallback(t.ID, func() { t.callbacks.OnStatusChange(status, err) })
	}
}

func safeCallback(taskID string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("task_id", taskID).Interface("panic", r).Msg("task callback panicked")
		}
	}()
	fn()
}

// publishOutput uploads a finished file. Failure is logged and does not
// affect the task outcome.
func (m *Manager) publishOutput(t *Task, path string) {
	if path == "" {
		return
	}
	key, err := m.publisher.Publish(m.baseCtx, path)
	if err != nil {
		log.Warn().Str("task_id", t.ID).Str("path", path).Err(err).Msg("publish download failed")
		return
	}
	if key != "" {
		m.mu.Lock()
		t.RemoteKey = key
		m.mu.Unlock()
	}
}
