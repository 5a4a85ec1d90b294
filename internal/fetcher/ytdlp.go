package fetcher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	fileutil "mediaqueue/internal/file"
)

const (
	DefaultBinary         = "yt-dlp"
	defaultTerminateGrace = 5 * time.Second
	stderrTailBytes       = 4 << 10
	maxLineBytes          = 1 << 20

	singleTemplate   = "%(title)s.%(ext)s"
	playlistTemplate = "%(playlist_title)s/%(playlist_index)s - %(title)s.%(ext)s"
)

// ErrEmptyOutput is returned when the downloader reports success but the
// file it named is missing or empty.
var ErrEmptyOutput = errors.New("downloaded file is missing or empty")

// YTDLP runs the yt-dlp command line program.
type YTDLP struct {
	// Binary defaults to "yt-dlp" on PATH.
	Binary string
	// BaseArgs precede every invocation, e.g. {"-m", "yt_dlp"} with Binary "python3".
	BaseArgs []string
	// ExtraArgs are appended to download invocations, before the URL.
	ExtraArgs []string
	// TerminateGrace is how long a cancelled process may take to exit after
	// the terminate signal before it is killed.
	TerminateGrace time.Duration
}

func NewYTDLP(binary string, extraArgs []string) *YTDLP {
	return &YTDLP{Binary: binary, ExtraArgs: extraArgs}
}

func (y *YTDLP) binary() string {
	if y.Binary == "" {
		return DefaultBinary
	}
	return y.Binary
}

func (y *YTDLP) command(ctx context.Context, args []string) *exec.Cmd {
	full := make([]string, 0, len(y.BaseArgs)+len(args))
	full = append(full, y.BaseArgs...)
	full = append(full, args...)
	cmd := exec.CommandContext(ctx, y.binary(), full...) //nolint:gosec // binary comes from operator config
	cmd.Cancel = func() error { return terminate(cmd.Process) }
	cmd.WaitDelay = y.TerminateGrace
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = defaultTerminateGrace
	}
	return cmd
}

// DownloadArgs builds the argument list for one download, without BaseArgs.
func (y *YTDLP) DownloadArgs(req Request) []string {
	tmpl := singleTemplate
	if req.Playlist {
		tmpl = playlistTemplate
	}
	args := []string{"--newline", "--no-colors", "-o", filepath.Join(req.OutputDir, tmpl)}
	if !req.Playlist {
		args = append(args, "--no-playlist")
	}
	args = append(args, req.Format.Args()...)
	args = append(args, y.ExtraArgs...)
	return append(args, "--", req.URL)
}

// Fetch runs one download. Progress is reported as parsed from stdout;
// the callback runs on the calling goroutine.
func (y *YTDLP) Fetch(ctx context.Context, req Request, onProgress func(float64)) (Result, error) {
	cmd := y.command(ctx, y.DownloadArgs(req))
	stderr := &tailBuffer{max: stderrTailBytes}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start %s: %w", y.binary(), err)
	}

	var res Result
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	for scanner.Scan() {
		ev := parseLine(scanner.Text())
		if ev.hasProgress && onProgress != nil {
			onProgress(ev.progress)
		}
		if ev.outputFile != "" {
			res.OutputFile = ev.outputFile
		}
	}
	if err := scanner.Err(); err != nil {
		log.Debug().Err(err).Str("url", req.URL).Msg("downloader stdout scan stopped")
		_, _ = io.Copy(io.Discard, stdout)
	}

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return Result{}, fmt.Errorf("download interrupted: %w", ctx.Err())
	}
	if waitErr != nil {
		return Result{}, exitError(waitErr, stderr.String())
	}
	if res.OutputFile != "" && !req.Playlist && !fileutil.NonEmpty(res.OutputFile) {
		return res, fmt.Errorf("%s: %w", res.OutputFile, ErrEmptyOutput)
	}
	return res, nil
}

// Probe returns the JSON metadata document for url without downloading.
// Playlists are listed flat.
func (y *YTDLP) Probe(ctx context.Context, url string) ([]byte, error) {
	cmd := y.command(ctx, []string{"--dump-single-json", "--flat-playlist", "--no-warnings", "--", url})
	stderr := &tailBuffer{max: stderrTailBytes}
	cmd.Stderr = stderr
	out, err := cmd.Output()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("probe interrupted: %w", ctx.Err())
	}
	if err != nil {
		return nil, exitError(err, stderr.String())
	}
	return out, nil
}

func exitError(err error, stderr string) error {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return &ExitError{Code: ee.ExitCode(), Stderr: stderr}
	}
	return fmt.Errorf("run downloader: %w", err)
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string { return string(t.buf) }
