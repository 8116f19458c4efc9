package config

import (
	iface "NoteDetClient/interface"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppConfig_MissingFile(t *testing.T) {
	cfg, found, err := LoadAppConfig(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 5000, cfg.WebPort)
	assert.Equal(t, 5806, cfg.DestPort)
	assert.Equal(t, BackendYolo, cfg.Detector.Backend)
	assert.Equal(t, FormatCSV, cfg.PayloadFormat)
	assert.Equal(t, 640, cfg.Detector.InputSize)
	assert.Equal(t, iface.NamesConf{IsFile: true, Data: "labels.txt"}, cfg.Detector.Names)
	assert.Empty(t, cfg.Validate())
}

func TestLoadAppConfig_YoloKeepsInlineNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
Detector:
  backend: yolo
  names:
    data: [note, robot]
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, _, err := LoadAppConfig(path)
	require.NoError(t, err)
	assert.False(t, cfg.Detector.Names.IsFile)
	assert.Equal(t, []any{"note", "robot"}, cfg.Detector.Names.Data)
}

func TestLoadAppConfig_EdgeTPUProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
WebPort: 8080
Detector:
  backend: EdgeTPU
  delegatePaths: ["/opt/coral/libedgetpu.so.1"]
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, found, err := LoadAppConfig(path)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 8080, cfg.WebPort)
	assert.Equal(t, BackendEdgeTPU, cfg.Detector.Backend)
	assert.Equal(t, float32(0.5), cfg.Detector.Conf)
	assert.Equal(t, 320, cfg.Detector.InputSize)
	assert.Equal(t, FormatJSON, cfg.PayloadFormat)
	assert.Equal(t, "note_detect_v2-fp16_edgetpu.tflite", cfg.Detector.ModelPath)
	assert.True(t, cfg.Detector.Names.IsFile)
	assert.Equal(t, "labels.txt", cfg.Detector.Names.Data)
	assert.Equal(t, []string{"/opt/coral/libedgetpu.so.1"}, cfg.Detector.DelegatePaths)
	assert.Empty(t, cfg.Validate())
}

func TestLoadAppConfig_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("WebPort: [1, 2"), 0o644))
	_, _, err := LoadAppConfig(path)
	assert.Error(t, err)
}

func TestAppConfig_Validate(t *testing.T) {
	cfg := DefaultAppConfig()
	cfg.applyProfile()
	cfg.WebPort = 0
	cfg.PayloadFormat = "xml"
	cfg.Detector.Backend = BackendRemote
	cfg.Detector.Conf = 1.5
	cfg.UseRegServer = true

	problems := cfg.Validate()
	assert.Len(t, problems, 6)
	assert.Contains(t, problems, "RegServerHost is required when UseRegServer is true")
	assert.Contains(t, problems, "Detector.endpoint is required for the remote backend")
}
