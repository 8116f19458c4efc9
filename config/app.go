package config

import (
	iface "NoteDetClient/interface"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	BackendYolo    = "yolo"
	BackendEdgeTPU = "edgetpu"
	BackendRemote  = "remote"

	FormatCSV  = "csv"
	FormatJSON = "json"
)

// AppConfig is the static part of the configuration, read once from
// config.yaml. Runtime-editable values live in the settings file.
type AppConfig struct {
	WebPort       int    `yaml:"WebPort"`
	RPCPort       int    `yaml:"RPCPort"`
	DestPort      int    `yaml:"DestPort"`
	PayloadFormat string `yaml:"PayloadFormat"`
	SettingsFile  string `yaml:"SettingsFile"`
	LogMode       string `yaml:"LogMode"`
	JPEGQuality   int    `yaml:"JPEGQuality"`
	MaxCameras    int    `yaml:"MaxCameras"`

	Detector iface.EngineConfig `yaml:"Detector"`

	UseRegServer      bool   `yaml:"UseRegServer"`
	RegServerHost     string `yaml:"RegServerHost"`
	RegServerPort     int    `yaml:"RegServerPort"`
	HeartbeatSeconds  int    `yaml:"HeartbeatSeconds"`
	MetricsSampleMsec int    `yaml:"MetricsSampleMsec"`
}

// DefaultAppConfig mirrors the YOLO deployment.
func DefaultAppConfig() AppConfig {
	return AppConfig{
		WebPort:      5000,
		RPCPort:      50051,
		DestPort:     5806,
		SettingsFile: "config.json",
		LogMode:      "production",
		JPEGQuality:  80,
		MaxCameras:   10,
		Detector: iface.EngineConfig{
			Backend:   BackendYolo,
			ModelPath: "note_detect_v2.onnx",
		},
		HeartbeatSeconds:  5,
		MetricsSampleMsec: 500,
	}
}

// LoadAppConfig reads path on top of the defaults. A missing file is not an
// error; the returned bool reports whether the file was found.
func LoadAppConfig(path string) (AppConfig, bool, error) {
	cfg := DefaultAppConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg.applyProfile()
		return cfg, false, nil
	}
	if err != nil {
		return cfg, false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, true, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyProfile()
	return cfg, true, nil
}

// applyProfile fills the per-backend defaults that were left unset.
func (c *AppConfig) applyProfile() {
	c.Detector.Backend = strings.ToLower(strings.TrimSpace(c.Detector.Backend))
	if c.Detector.Backend == "" {
		c.Detector.Backend = BackendYolo
	}
	switch c.Detector.Backend {
	case BackendEdgeTPU:
		if c.Detector.Conf == 0 {
			c.Detector.Conf = 0.5
		}
		if c.Detector.InputSize == 0 {
			c.Detector.InputSize = 320
		}
		if c.PayloadFormat == "" {
			c.PayloadFormat = FormatJSON
		}
		if c.Detector.ModelPath == "" || c.Detector.ModelPath == DefaultAppConfig().Detector.ModelPath {
			c.Detector.ModelPath = "note_detect_v2-fp16_edgetpu.tflite"
		}
		if c.Detector.Names.Data == nil {
			c.Detector.Names = iface.NamesConf{IsFile: true, Data: "labels.txt"}
		}
	case BackendRemote:
		if c.Detector.Conf == 0 {
			c.Detector.Conf = 0.25
		}
		if c.Detector.Iou == 0 {
			c.Detector.Iou = 0.45
		}
		if c.PayloadFormat == "" {
			c.PayloadFormat = FormatCSV
		}
	default:
		if c.Detector.Conf == 0 {
			c.Detector.Conf = 0.25
		}
		if c.Detector.Iou == 0 {
			c.Detector.Iou = 0.45
		}
		if c.Detector.InputSize == 0 {
			c.Detector.InputSize = 640
		}
		if c.PayloadFormat == "" {
			c.PayloadFormat = FormatCSV
		}
		if c.Detector.Names.Data == nil {
			c.Detector.Names = iface.NamesConf{IsFile: true, Data: "labels.txt"}
		}
	}
	c.PayloadFormat = strings.ToLower(c.PayloadFormat)
}

// Validate returns every problem found, or nil.
func (c *AppConfig) Validate() []string {
	var problems []string
	checkPort := func(name string, p int, optional bool) {
		if optional && p == 0 {
			return
		}
		if p <= 0 || p > 65535 {
			problems = append(problems, fmt.Sprintf("%s must be between 1 and 65535, got %d", name, p))
		}
	}
	checkPort("WebPort", c.WebPort, false)
	checkPort("RPCPort", c.RPCPort, true)
	checkPort("DestPort", c.DestPort, false)
	if c.UseRegServer {
		checkPort("RegServerPort", c.RegServerPort, false)
		if c.RegServerHost == "" {
			problems = append(problems, "RegServerHost is required when UseRegServer is true")
		}
	}
	switch c.PayloadFormat {
	case FormatCSV, FormatJSON:
	default:
		problems = append(problems, fmt.Sprintf("PayloadFormat must be csv or json, got %q", c.PayloadFormat))
	}
	switch c.Detector.Backend {
	case BackendYolo, BackendEdgeTPU:
		if c.Detector.ModelPath == "" {
			problems = append(problems, "Detector.modelPath cannot be empty")
		}
	case BackendRemote:
		if c.Detector.Endpoint == "" {
			problems = append(problems, "Detector.endpoint is required for the remote backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported Detector.backend %q", c.Detector.Backend))
	}
	if c.Detector.Conf < 0 || c.Detector.Conf > 1 {
		problems = append(problems, fmt.Sprintf("Detector.conf must be between 0.0 and 1.0, got %f", c.Detector.Conf))
	}
	if c.Detector.Iou < 0 || c.Detector.Iou > 1 {
		problems = append(problems, fmt.Sprintf("Detector.iou must be between 0.0 and 1.0, got %f", c.Detector.Iou))
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		problems = append(problems, fmt.Sprintf("JPEGQuality must be between 1 and 100, got %d", c.JPEGQuality))
	}
	return problems
}
