package fetcher

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
)

const (
	TypeAudio = "audio"
	TypeVideo = "video"

	QualityBest   = "best"
	QualityHigh   = "high"
	QualityMedium = "medium"
	QualityLow    = "low"
)

// Format is the parsed form of a task's format options.
type Format struct {
	Type      string `json:"type"`
	Quality   string `json:"quality"`
	Container string `json:"container"`
}

var audioQuality = map[string]string{
	QualityBest:   "0",
	QualityHigh:   "320K",
	QualityMedium: "192K",
	QualityLow:    "128K",
}

// audio container name to yt-dlp --audio-format value
var audioContainers = map[string]string{
	"mp3":  "mp3",
	"m4a":  "m4a",
	"aac":  "aac",
	"opus": "opus",
	"wav":  "wav",
	"ogg":  "vorbis",
	"flac": "flac",
}

var videoHeight = map[string]int{
	QualityBest:   0,
	QualityHigh:   1080,
	QualityMedium: 720,
	QualityLow:    480,
}

var videoContainers = map[string]bool{"mp4": true, "webm": true, "mkv": true}

var heightPattern = regexp.MustCompile(`^(\d{3,4})p?$`)

// FormatFromOptions reads type, quality and container keys, filling
// defaults: video, best, mp4 (mp3 for audio).
func FormatFromOptions(opts map[string]string) Format {
	f := Format{
		Type:      strings.ToLower(strings.TrimSpace(opts["type"])),
		Quality:   strings.ToLower(strings.TrimSpace(opts["quality"])),
		Container: strings.ToLower(strings.TrimSpace(opts["container"])),
	}
	if f.Type == "" {
		f.Type = TypeVideo
	}
	if f.Quality == "" {
		f.Quality = QualityBest
	}
	if f.Container == "" {
		f.Container = "mp4"
		if f.Type == TypeAudio {
			f.Container = "mp3"
		}
	}
	return f
}

// Options is the inverse of FormatFromOptions.
func (f Format) Options() map[string]string {
	return map[string]string{"type": f.Type, "quality": f.Quality, "container": f.Container}
}

func (f *Format) Validate() error {
	return validation.ValidateStruct(f, //nolint:wrapcheck
		validation.Field(&f.Type, validation.Required, validation.In(TypeAudio, TypeVideo)),
		validation.Field(&f.Quality, validation.Required, validation.By(f.checkQuality)),
		validation.Field(&f.Container, validation.Required, validation.By(f.checkContainer)),
	)
}

func (f *Format) checkQuality(any) error {
	if f.Type == TypeAudio {
		if _, ok := audioQuality[f.Quality]; !ok {
			return errors.New("must be one of best, high, medium, low")
		}
		return nil
	}
	if _, ok := videoHeight[f.Quality]; ok {
		return nil
	}
	if heightPattern.MatchString(f.Quality) {
		return nil
	}
	return errors.New("must be best, high, medium, low or a height such as 720p")
}

func (f *Format) checkContainer(any) error {
	if f.Type == TypeAudio {
		if _, ok := audioContainers[f.Container]; !ok {
			return errors.New("unsupported audio container")
		}
		return nil
	}
	if !videoContainers[f.Container] {
		return errors.New("unsupported video container")
	}
	return nil
}

// height returns the maximum video height, 0 meaning unrestricted.
func (f Format) height() int {
	if h, ok := videoHeight[f.Quality]; ok {
		return h
	}
	if m := heightPattern.FindStringSubmatch(f.Quality); m != nil {
		h, _ := strconv.Atoi(m[1])
		return h
	}
	return 0
}

// Args maps the format onto yt-dlp selection flags.
func (f Format) Args() []string {
	if f.Type == TypeAudio {
		codec, ok := audioContainers[f.Container]
		if !ok {
			codec = "mp3"
		}
		q, ok := audioQuality[f.Quality]
		if !ok {
			q = audioQuality[QualityBest]
		}
		return []string{"-x", "--audio-format", codec, "--audio-quality", q}
	}

	selector := "bestvideo+bestaudio/best"
	if h := f.height(); h > 0 {
		hs := strconv.Itoa(h)
		selector = "bestvideo[height<=" + hs + "]+bestaudio/best[height<=" + hs + "]"
	}
	container := f.Container
	if !videoContainers[container] {
		container = "mp4"
	}
	return []string{"-f", selector, "--merge-output-format", container}
}
