// Package settings persists player preferences as a small key=value file.
package settings

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Keys understood by the player.
const (
	KeyLeadMillis  = "lead_ms"
	KeyDisplayRate = "display_rate"
	KeyShowTime    = "show_time"
	KeyShowDebug   = "show_debug"
	KeyLastDir     = "last_dir"
)

const header = "# avplayer settings\n"

// Settings is a set of key=value pairs stored in dotenv syntax. Keys it
// does not know about are kept and written back unchanged.
type Settings struct {
	values map[string]string
}

// New returns empty settings.
func New() *Settings {
	return &Settings{values: make(map[string]string)}
}

// Load reads path. A missing file is not an error and yields empty settings.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logrus.WithFields(logrus.Fields{
			"function": "Load",
			"path":     path,
		}).Debug("No settings file, using defaults")
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes settings text. Blank lines and '#' comments are skipped,
// values may be quoted, and a repeated key keeps its last value.
func Parse(data []byte) (*Settings, error) {
	values, err := godotenv.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	s := New()
	for k, v := range values {
		s.Set(k, v)
	}
	return s, nil
}

// Save writes the settings to a temporary file next to path and renames
// it over path, so readers never see a partial file.
func (s *Settings) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create settings directory: %w", err)
		}
	}

	tmpFile := path + ".tmp"
	data, err := s.Bytes()
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := os.Rename(tmpFile, path); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename file: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Save",
		"path":     path,
		"keys":     len(s.values),
	}).Info("Settings saved")
	return nil
}

// Bytes encodes the settings sorted by key.
func (s *Settings) Bytes() ([]byte, error) {
	body, err := godotenv.Marshal(s.values)
	if err != nil {
		return nil, fmt.Errorf("failed to encode settings: %w", err)
	}
	return []byte(header + body + "\n"), nil
}

// Get returns the raw value of key.
func (s *Settings) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Set stores value under key. Newlines would break the file format and
// are replaced by spaces.
func (s *Settings) Set(key, value string) {
	s.values[key] = strings.NewReplacer("\r", " ", "\n", " ").Replace(value)
}

// SetInt stores an integer value.
func (s *Settings) SetInt(key string, v int) {
	s.Set(key, strconv.Itoa(v))
}

// SetBool stores a boolean as 1 or 0.
func (s *Settings) SetBool(key string, v bool) {
	if v {
		s.Set(key, "1")
	} else {
		s.Set(key, "0")
	}
}

// Int returns key as an integer, or def when it is missing or malformed.
func (s *Settings) Int(key string, def int) int {
	v, ok := s.values[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Settings.Int",
			"key":      key,
			"value":    v,
		}).Warn("Ignoring malformed integer setting")
		return def
	}
	return n
}

// Bool returns key as a boolean. Only a leading '1' counts as true.
func (s *Settings) Bool(key string, def bool) bool {
	v, ok := s.values[key]
	if !ok || v == "" {
		return def
	}
	return v[0] == '1'
}

// Keys returns the stored keys in sorted order.
func (s *Settings) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
