package task

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"
	validation "github.com/go-ozzo/ozzo-validation"

	"mediaqueue/internal/fetcher"
)

// DefaultURLPattern accepts YouTube watch, short-link, shorts and playlist URLs.
const DefaultURLPattern = `^(https?://)?((www|m)\.)?(youtube\.com/(watch\?v=|shorts/)|youtu\.be/)[A-Za-z0-9_-]{11}([?&#].*)?$` +
	`|^(https?://)?((www|m)\.)?youtube\.com/playlist\?list=[A-Za-z0-9_-]+.*$`

var playlistPattern = regexp.MustCompile(`^(https?://)?((www|m)\.)?youtube\.com/playlist\?list=`)

type submission struct {
	URL       string         `json:"url"`
	OutputDir string         `json:"output_dir"`
	Format    fetcher.Format `json:"format"`
}

// validate checks the request shape, then free space at the destination.
func (m *Manager) validate(s *submission) error {
	err := validation.ValidateStruct(s,
		validation.Field(&s.URL, validation.Required, validation.Match(m.urlPattern).Error("is not a supported media URL")),
		validation.Field(&s.OutputDir, validation.Required),
	)
	errs := validation.Errors{}
	var fieldErrs validation.Errors
	if errors.As(err, &fieldErrs) {
		for k, v := range fieldErrs {
			errs[k] = v
		}
	} else if err != nil {
		return fmt.Errorf("validate submission: %w", err)
	}
	if ferr := s.Format.Validate(); ferr != nil {
		errs["format"] = ferr
	}
	if len(errs) > 0 {
		return validationFromOzzo(errs)
	}
	return m.checkFreeSpace(s.OutputDir)
}

func (m *Manager) validateURL(url string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return newValidationError("url", "cannot be blank")
	}
	if !m.urlPattern.MatchString(url) {
		return newValidationError("url", "is not a supported media URL")
	}
	return nil
}

func (m *Manager) checkFreeSpace(dir string) error {
	free, err := m.freeSpace(dir)
	if err != nil {
		return newValidationError("output_dir", "cannot determine free space: "+err.Error())
	}
	if free < m.opts.MinFreeSpace {
		return newValidationError("output_dir", fmt.Sprintf("insufficient free space: %s available, %s required",
			humanize.IBytes(free), humanize.IBytes(m.opts.MinFreeSpace)))
	}
	return nil
}
