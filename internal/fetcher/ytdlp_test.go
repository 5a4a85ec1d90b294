package fetcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

const fakeModeEnv = "MEDIAQ_FAKE_YTDLP"

// TestHelperProcess is not a real test; it impersonates yt-dlp when the
// test binary is re-executed by fakeYTDLP.
func TestHelperProcess(t *testing.T) {
	mode := os.Getenv(fakeModeEnv)
	if mode == "" {
		return
	}
	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	os.Exit(fakeMain(mode, args))
}

func fakeMain(mode string, args []string) int {
	if hasArg(args, "--dump-single-json") {
		if mode == "fail" {
			fmt.Fprintln(os.Stderr, "ERROR: [youtube] abcdefghijk: Video unavailable")
			return 1
		}
		fmt.Println(`{"id":"abcdefghijk","title":"Fake Clip"}`)
		return 0
	}

	out := ""
	for i := 0; i < len(args)-1; i++ {
		if args[i] == "-o" {
			out = args[i+1]
		}
	}
	path := strings.NewReplacer("%(title)s", "Fake Clip", "%(ext)s", "mp4").Replace(out)

	switch mode {
	case "fail":
		fmt.Println("[youtube] Extracting URL")
		fmt.Fprintln(os.Stderr, "WARNING: something odd")
		fmt.Fprintln(os.Stderr, "ERROR: unable to download video data: HTTP Error 403: Forbidden")
		return 1
	case "hang":
		fmt.Println("[download]   5.0% of 10.00MiB at 1.00MiB/s ETA 00:09")
		time.Sleep(30 * time.Second)
		return 0
	case "empty":
		fmt.Println("[download] Destination: " + path)
		fmt.Println("[download] 100% of 0.00B")
		return 0
	}

	fmt.Println("[youtube] abcdefghijk: Downloading webpage")
	fmt.Println("[download] Destination: " + path)
	for _, p := range []string{"  0.0", " 12.5", " 55.0", "100"} {
		fmt.Printf("[download] %s%% of 10.00MiB at 2.00MiB/s ETA 00:03\n", p)
	}
	if err := os.WriteFile(path, []byte("media"), 0o600); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	return 0
}

func hasArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func fakeYTDLP(t *testing.T, mode string) *YTDLP {
	t.Helper()
	t.Setenv(fakeModeEnv, mode)
	return &YTDLP{
		Binary:         os.Args[0],
		BaseArgs:       []string{"-test.run=TestHelperProcess", "--"},
		TerminateGrace: time.Second,
	}
}

func TestFetchReportsProgressAndOutput(t *testing.T) {
	y := fakeYTDLP(t, "ok")
	dir := t.TempDir()

	var (
		mu   sync.Mutex
		seen []float64
	)
	res, err := y.Fetch(context.Background(), Request{
		URL:       "https://youtu.be/abcdefghijk",
		OutputDir: dir,
		Format:    FormatFromOptions(nil),
	}, func(p float64) {
		mu.Lock()
		seen = append(seen, p)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if res.OutputFile != filepath.Join(dir, "Fake Clip.mp4") {
		t.Fatalf("unexpected output file %q", res.OutputFile)
	}
	if len(seen) != 4 || seen[1] != 12.5 || seen[3] != 100 {
		t.Fatalf("unexpected progress %v", seen)
	}
}

func TestFetchNonZeroExit(t *testing.T) {
	y := fakeYTDLP(t, "fail")
	_, err := y.Fetch(context.Background(), Request{URL: "https://youtu.be/abcdefghijk", OutputDir: t.TempDir(), Format: FormatFromOptions(nil)}, nil)

	var ee *ExitError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if ee.Code != 1 {
		t.Fatalf("expected exit code 1, got %d", ee.Code)
	}
	if !strings.Contains(ee.Stderr, "403") || !strings.Contains(ee.Error(), "HTTP Error 403") {
		t.Fatalf("stderr not captured: %q / %q", ee.Stderr, ee.Error())
	}
}

func TestFetchEmptyOutputIsError(t *testing.T) {
	y := fakeYTDLP(t, "empty")
	_, err := y.Fetch(context.Background(), Request{URL: "https://youtu.be/abcdefghijk", OutputDir: t.TempDir(), Format: FormatFromOptions(nil)}, nil)
	if !errors.Is(err, ErrEmptyOutput) {
		t.Fatalf("expected ErrEmptyOutput, got %v", err)
	}
}

func TestFetchCancelTerminatesProcess(t *testing.T) {
	y := fakeYTDLP(t, "hang")
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := y.Fetch(ctx, Request{URL: "https://youtu.be/abcdefghijk", OutputDir: t.TempDir(), Format: FormatFromOptions(nil)}, func(float64) {
			select {
			case started <- struct{}{}:
			default:
			}
		})
		done <- err
	}()

	select {
	case <-started:
	case <-time.After(10 * time.Second):
		t.Fatalf("fake downloader never reported progress")
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("fetch did not return after cancel")
	}
}

func TestFetchMissingBinary(t *testing.T) {
	y := &YTDLP{Binary: filepath.Join(t.TempDir(), "no-such-binary")}
	_, err := y.Fetch(context.Background(), Request{URL: "https://youtu.be/abcdefghijk", OutputDir: t.TempDir()}, nil)
	var ee *ExitError
	if err == nil || errors.As(err, &ee) {
		t.Fatalf("expected start error, got %v", err)
	}
}

func TestProbe(t *testing.T) {
	meta, err := fakeYTDLP(t, "ok").Probe(context.Background(), "https://youtu.be/abcdefghijk")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if Title(meta) != "Fake Clip" {
		t.Fatalf("unexpected title in %s", meta)
	}

	_, err = fakeYTDLP(t, "fail").Probe(context.Background(), "https://youtu.be/abcdefghijk")
	var ee *ExitError
	if !errors.As(err, &ee) || !strings.Contains(ee.Stderr, "Video unavailable") {
		t.Fatalf("expected ExitError with stderr, got %v", err)
	}
}

func TestDownloadArgs(t *testing.T) {
	y := &YTDLP{ExtraArgs: []string{"--limit-rate", "1M"}}
	args := y.DownloadArgs(Request{
		URL:       "https://youtu.be/abcdefghijk",
		OutputDir: "/media",
		Format:    Format{Type: TypeAudio, Quality: QualityHigh, Container: "mp3"},
	})
	got := strings.Join(args, " ")
	for _, want := range []string{
		"-o /media/%(title)s.%(ext)s",
		"--no-playlist",
		"-x --audio-format mp3 --audio-quality 320K",
		"--limit-rate 1M -- https://youtu.be/abcdefghijk",
	} {
		if !strings.Contains(got, filepath.FromSlash(want)) && !strings.Contains(got, want) {
			t.Fatalf("args %q missing %q", got, want)
		}
	}

	playlist := strings.Join(y.DownloadArgs(Request{URL: "https://youtube.com/playlist?list=x", OutputDir: "/media", Playlist: true, Format: FormatFromOptions(nil)}), " ")
	if strings.Contains(playlist, "--no-playlist") || !strings.Contains(playlist, "%(playlist_index)s") {
		t.Fatalf("unexpected playlist args %q", playlist)
	}
}
