package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// MetadataFile is written at the root of every session directory.
const MetadataFile = "scan_metadata.json"

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Camera is the metadata recorded for one bound camera.
type Camera struct {
	Port           string `json:"port"`
	Serial         string `json:"serial"`
	Model          string `json:"model,omitempty"`
	Manufacturer   string `json:"manufacturer,omitempty"`
	BatteryPercent *int   `json:"battery_percent,omitempty"`
}

// Metadata describes one scanning session on disk.
type Metadata struct {
	SessionName     string     `json:"session_name"`
	Identifier      string     `json:"identifier"`
	Title           string     `json:"title,omitempty"`
	Operator        string     `json:"operator,omitempty"`
	HostID          string     `json:"host_id,omitempty"`
	ScanDate        string     `json:"scan_date"`
	ScanTime        string     `json:"scan_time"`
	StartedAt       time.Time  `json:"start_timestamp"`
	Mode            string     `json:"mode,omitempty"`
	FilenamePattern string     `json:"filename_pattern,omitempty"`
	Primary         Camera     `json:"primary_camera"`
	Secondary       Camera     `json:"secondary_camera"`
	StoppedAt       *time.Time `json:"stop_timestamp,omitempty"`
	DurationSeconds float64    `json:"duration_seconds,omitempty"`
	TotalImages     int        `json:"total_images_captured"`
	Notes           string     `json:"notes"`
}

// Summary is the end-of-session report.
type Summary struct {
	Dir      string
	Duration time.Duration
	Images   int
	Pages    int
	// SecondsPerPage is zero when no page was captured.
	SecondsPerPage float64
}

func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "session saved to %s\n", s.Dir)
	fmt.Fprintf(&b, "duration: %s\n", s.Duration.Round(time.Second))
	fmt.Fprintf(&b, "images captured: %d (%d pages)\n", s.Images, s.Pages)
	if s.Pages > 0 {
		fmt.Fprintf(&b, "average pace: %.1f s/page\n", s.SecondsPerPage)
	}
	return b.String()
}

// Workspace is the directory receiving one session's images.
type Workspace struct {
	Dir  string
	meta Metadata
}

// Create makes root/<YYYYMMDD-HHMMSS>-<identifier> and writes the initial
// metadata file.
func Create(root, identifier string, meta Metadata, startedAt time.Time) (*Workspace, error) {
	ident := SanitizeName(identifier)
	if ident == "" {
		return nil, errors.New("storage: session identifier is required")
	}
	name := startedAt.Format("20060102-150405") + "-" + ident
	dir := filepath.Join(root, name)
	if _, err := os.Stat(dir); err == nil {
		return nil, errors.Errorf("storage: session directory %s already exists", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "storage: create session directory %s", dir)
	}

	meta.SessionName = name
	meta.Identifier = identifier
	meta.ScanDate = startedAt.Format("2006-01-02")
	meta.ScanTime = startedAt.Format("15:04:05")
	meta.StartedAt = startedAt
	w := &Workspace{Dir: dir, meta: meta}
	if err := w.save(); err != nil {
		return nil, err
	}
	log.Info().Str("dir", dir).Msg("session workspace created")
	return w, nil
}

// Metadata returns a copy of the current metadata.
func (w *Workspace) Metadata() Metadata {
	return w.meta
}

// Path joins name to the workspace directory.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Dir, name)
}

// Finish stamps the stop time, totals and notes, and returns the summary.
func (w *Workspace) Finish(totalImages int, notes string, stoppedAt time.Time) (Summary, error) {
	duration := stoppedAt.Sub(w.meta.StartedAt)
	if duration < 0 {
		duration = 0
	}
	w.meta.StoppedAt = &stoppedAt
	w.meta.DurationSeconds = duration.Seconds()
	w.meta.TotalImages = totalImages
	w.meta.Notes = strings.TrimSpace(notes)

	summary := Summary{
		Dir:      w.Dir,
		Duration: duration,
		Images:   totalImages,
		Pages:    totalImages / 2,
	}
	if summary.Pages > 0 {
		summary.SecondsPerPage = duration.Seconds() / float64(summary.Pages)
	}
	return summary, w.save()
}

func (w *Workspace) save() error {
	data, err := json.MarshalIndent(w.meta, "", "  ")
	if err != nil {
		return errors.Wrap(err, "storage: encode metadata")
	}
	path := w.Path(MetadataFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "storage: write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "storage: replace %s", path)
	}
	return nil
}

// LoadMetadata reads the metadata file of a session directory.
func LoadMetadata(dir string) (Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return Metadata{}, errors.Wrap(err, "storage: read metadata")
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, errors.Wrap(err, "storage: decode metadata")
	}
	return meta, nil
}

// SanitizeName turns free text into a directory-safe name.
func SanitizeName(s string) string {
	s = strings.TrimSpace(s)
	s = unsafeName.ReplaceAllString(s, "_")
	return strings.Trim(s, "_.")
}
