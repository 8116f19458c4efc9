package iface

import "time"

// NamesConf holds class names either inline (Data is []string) or as a path
// to a labels file (IsFile, Data is string).
type NamesConf struct {
	IsFile bool `yaml:"isFile"`
	Data   any  `yaml:"data"`
}

// EngineConfig describes one detector backend.
type EngineConfig struct {
	Backend       string    `yaml:"backend"`
	ModelPath     string    `yaml:"modelPath"`
	Names         NamesConf `yaml:"names"`
	Conf          float32   `yaml:"conf"`
	Iou           float32   `yaml:"iou"`
	InputSize     int       `yaml:"inputSize"`
	UseGPU        bool      `yaml:"useGPU"`
	Endpoint      string    `yaml:"endpoint"`
	DelegatePaths []string  `yaml:"delegatePaths"`
}

// ImageData is a raw BGR frame. Data must not be modified once handed out.
type ImageData struct {
	Data     []byte
	Width    int
	Height   int
	Channels int
}

func (img ImageData) Empty() bool {
	return len(img.Data) == 0 || img.Width <= 0 || img.Height <= 0
}

// Detection is one labeled box in pixel coordinates.
type Detection struct {
	XMin       float32 `json:"xmin"`
	YMin       float32 `json:"ymin"`
	XMax       float32 `json:"xmax"`
	YMax       float32 `json:"ymax"`
	Confidence float32 `json:"confidence"`
	ClassID    int     `json:"class_id"`
	Label      string  `json:"label"`
}

// Center returns the middle of the box.
func (d Detection) Center() (x, y float32) {
	return (d.XMin + d.XMax) / 2, (d.YMin + d.YMax) / 2
}

// Batch is everything detected on one frame.
type Batch struct {
	Seq        uint64
	CapturedAt time.Time
	Width      int
	Height     int
	Detections []Detection
}

// CameraDevice is a capture index that could be opened.
type CameraDevice struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}
