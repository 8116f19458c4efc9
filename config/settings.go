package config

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/goccy/go-json"
)

const (
	KeyCameraIndex = "camera_index"
	KeyDestination = "ipOfRio"
	KeySetting1    = "setting1"
	KeySetting2    = "setting2"
)

// Setting1Options are the values offered by the web form for setting1.
var Setting1Options = []string{"option1", "option2", "option3", "option4"}

// Settings is the flat mapping persisted in config.json.
type Settings map[string]any

// DefaultSettings is written when no settings file exists yet.
func DefaultSettings() Settings {
	return Settings{
		KeyCameraIndex: 0,
		KeyDestination: "10.0.0.2",
		KeySetting1:    "option1",
		KeySetting2:    "value2",
	}
}

// CameraIndex returns camera_index coerced to int, 0 when missing.
func (s Settings) CameraIndex() int {
	idx, _ := toInt(s[KeyCameraIndex])
	return idx
}

// Destination returns the remote IP the detections are sent to.
func (s Settings) Destination() string {
	return s.String(KeyDestination)
}

func (s Settings) String(key string) string {
	switch v := s[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Clone returns a shallow copy, values are primitives.
func (s Settings) Clone() Settings {
	out := make(Settings, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}

// Store reads and writes the settings file. It holds no lock: concurrent
// writers race and the last rename wins.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (st *Store) Path() string {
	return st.path
}

// Load returns the current settings, creating the file with the defaults
// when it does not exist.
func (st *Store) Load() (Settings, error) {
	data, err := os.ReadFile(st.path)
	if errors.Is(err, os.ErrNotExist) {
		def := DefaultSettings()
		if err := st.Save(def); err != nil {
			return nil, err
		}
		return def, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings %s: %w", st.path, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	raw := map[string]any{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", st.path, err)
	}
	return normalize(raw)
}

// Save rewrites the whole file through a temp file and a rename so a reader
// never observes a half written document.
func (st *Store) Save(s Settings) error {
	norm, err := normalize(s)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(norm, "", "    ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	dir := filepath.Dir(st.path)
	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return fmt.Errorf("create temp settings: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp settings: %w", err)
	}
	if err := os.Rename(tmpName, st.path); err != nil {
		return fmt.Errorf("replace settings %s: %w", st.path, err)
	}
	return nil
}

// normalize coerces camera_index to int and json.Number values to int or
// float64 so a loaded mapping compares equal to the one that was saved.
func normalize(in map[string]any) (Settings, error) {
	out := make(Settings, len(in))
	for k, v := range in {
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				v = int(i)
			} else if f, err := n.Float64(); err == nil {
				v = f
			}
		}
		out[k] = v
	}
	if v, ok := out[KeyCameraIndex]; ok {
		idx, ok := toInt(v)
		if !ok {
			return nil, fmt.Errorf("%s must be an integer, got %v", KeyCameraIndex, v)
		}
		out[KeyCameraIndex] = idx
	}
	return out, nil
}
