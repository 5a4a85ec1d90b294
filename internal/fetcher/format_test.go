package fetcher

import (
	"strings"
	"testing"
)

func TestFormatDefaults(t *testing.T) {
	f := FormatFromOptions(nil)
	if f.Type != TypeVideo || f.Quality != QualityBest || f.Container != "mp4" {
		t.Fatalf("unexpected video defaults: %+v", f)
	}
	a := FormatFromOptions(map[string]string{"type": " Audio "})
	if a.Type != TypeAudio || a.Container != "mp3" {
		t.Fatalf("unexpected audio defaults: %+v", a)
	}
}

func TestFormatValidate(t *testing.T) {
	valid := []Format{
		{Type: TypeVideo, Quality: QualityBest, Container: "mp4"},
		{Type: TypeVideo, Quality: "720p", Container: "webm"},
		{Type: TypeVideo, Quality: "1080", Container: "mkv"},
		{Type: TypeAudio, Quality: QualityLow, Container: "ogg"},
	}
	for _, f := range valid {
		f := f
		if err := f.Validate(); err != nil {
			t.Fatalf("%+v should be valid: %v", f, err)
		}
	}

	invalid := []Format{
		{Type: "podcast", Quality: QualityBest, Container: "mp4"},
		{Type: TypeAudio, Quality: "720p", Container: "mp3"},
		{Type: TypeVideo, Quality: QualityBest, Container: "mp3"},
		{Type: TypeVideo, Quality: "ultra", Container: "mp4"},
	}
	for _, f := range invalid {
		f := f
		if err := f.Validate(); err == nil {
			t.Fatalf("%+v should be invalid", f)
		}
	}
}

func TestFormatArgs(t *testing.T) {
	cases := []struct {
		f    Format
		want string
	}{
		{Format{Type: TypeVideo, Quality: QualityBest, Container: "mp4"}, "-f bestvideo+bestaudio/best --merge-output-format mp4"},
		{Format{Type: TypeVideo, Quality: QualityMedium, Container: "webm"}, "-f bestvideo[height<=720]+bestaudio/best[height<=720] --merge-output-format webm"},
		{Format{Type: TypeVideo, Quality: "2160p", Container: "mkv"}, "-f bestvideo[height<=2160]+bestaudio/best[height<=2160] --merge-output-format mkv"},
		{Format{Type: TypeAudio, Quality: QualityMedium, Container: "mp3"}, "-x --audio-format mp3 --audio-quality 192K"},
		{Format{Type: TypeAudio, Quality: QualityBest, Container: "ogg"}, "-x --audio-format vorbis --audio-quality 0"},
	}
	for _, c := range cases {
		if got := strings.Join(c.f.Args(), " "); got != c.want {
			t.Fatalf("%+v: got %q want %q", c.f, got, c.want)
		}
	}
}

func TestParseLine(t *testing.T) {
	if ev := parseLine("[download]  42.3% of ~ 10.00MiB at 1.2MiB/s ETA 00:05"); !ev.hasProgress || ev.progress != 42.3 {
		t.Fatalf("progress not parsed: %+v", ev)
	}
	if ev := parseLine("[download] 100% of 10.00MiB in 00:04"); !ev.hasProgress || ev.progress != 100 {
		t.Fatalf("100%% not parsed: %+v", ev)
	}
	if ev := parseLine("[download] Destination: /tmp/a b.f137.mp4"); ev.outputFile != "/tmp/a b.f137.mp4" {
		t.Fatalf("destination not parsed: %+v", ev)
	}
	if ev := parseLine(`[Merger] Merging formats into "/tmp/a b.mp4"`); ev.outputFile != "/tmp/a b.mp4" {
		t.Fatalf("merger not parsed: %+v", ev)
	}
	if ev := parseLine("[ExtractAudio] Destination: /tmp/song.mp3"); ev.outputFile != "/tmp/song.mp3" {
		t.Fatalf("extract audio not parsed: %+v", ev)
	}
	if ev := parseLine("[download] /tmp/old.mp4 has already been downloaded"); ev.outputFile != "/tmp/old.mp4" {
		t.Fatalf("already downloaded not parsed: %+v", ev)
	}
	if ev := parseLine("[youtube] abc: Downloading webpage"); ev.hasProgress || ev.outputFile != "" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestTitle(t *testing.T) {
	if got := Title([]byte(`{"title":"Song"}`)); got != "Song" {
		t.Fatalf("got %q", got)
	}
	if got := Title([]byte("not json")); got != "" {
		t.Fatalf("expected empty title, got %q", got)
	}
}
