package fetcher

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

var (
	progressRe    = regexp.MustCompile(`^\[download\]\s+(\d{1,3}(?:\.\d+)?)%`)
	destinationRe = regexp.MustCompile(`^\[(?:download|ExtractAudio)\] Destination: (.+)$`)
	mergerRe      = regexp.MustCompile(`^\[Merger\] Merging formats into "(.+)"$`)
	alreadyRe     = regexp.MustCompile(`^\[download\] (.+) has already been downloaded`)
)

// lineEvent is what a single yt-dlp output line tells us.
type lineEvent struct {
	progress    float64
	hasProgress bool
	outputFile  string
}

func parseLine(line string) lineEvent {
	line = strings.TrimSpace(line)
	var ev lineEvent
	if m := progressRe.FindStringSubmatch(line); m != nil {
		if p, err := strconv.ParseFloat(m[1], 64); err == nil && p >= 0 && p <= 100 {
			ev.progress, ev.hasProgress = p, true
		}
		return ev
	}
	for _, re := range []*regexp.Regexp{mergerRe, destinationRe, alreadyRe} {
		if m := re.FindStringSubmatch(line); m != nil {
			ev.outputFile = strings.TrimSpace(m[1])
			return ev
		}
	}
	return ev
}

// Title extracts the "title" field from probe output; empty when absent.
func Title(meta []byte) string {
	var doc struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(meta, &doc); err != nil {
		return ""
	}
	return doc.Title
}
