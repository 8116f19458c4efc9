package engine

import (
	iface "NoteDetClient/interface"
	"NoteDetClient/vision"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

const remoteTimeout = 5 * time.Second

type remoteBox struct {
	Label   string  `json:"label"`
	ClassID int     `json:"class_id"`
	Conf    float32 `json:"conf"`
	X1      float32 `json:"x1"`
	Y1      float32 `json:"y1"`
	X2      float32 `json:"x2"`
	Y2      float32 `json:"y2"`
}

type remoteResponse struct {
	Boxes []remoteBox `json:"boxes"`
	Error string      `json:"error,omitempty"`
}

// RemoteBackend posts each frame as a JPEG to an inference server and maps
// the boxes it answers with.
type RemoteBackend struct {
	cfg    iface.EngineConfig
	client *resty.Client
	encode func(iface.ImageData) ([]byte, error)
}

func (r *RemoteBackend) LoadModel(cfg iface.EngineConfig) error {
	if cfg.Endpoint == "" {
		return errors.New("remote backend needs an endpoint")
	}
	r.cfg = cfg
	r.client = resty.New().SetTimeout(remoteTimeout)
	if r.encode == nil {
		r.encode = vision.JPEGEncoder(90)
	}
	return nil
}

func (r *RemoteBackend) Detect(img iface.ImageData) ([]iface.Detection, error) {
	if r.client == nil {
		return nil, ErrNotLoaded
	}
	jpg, err := r.encode(img)
	if err != nil {
		return nil, err
	}
	var out remoteResponse
	resp, err := r.client.R().
		SetFileReader("image", "frame.jpg", bytes.NewReader(jpg)).
		SetFormData(map[string]string{
			"conf": strconv.FormatFloat(float64(r.cfg.Conf), 'f', -1, 32),
			"iou":  strconv.FormatFloat(float64(r.cfg.Iou), 'f', -1, 32),
		}).
		SetResult(&out).
		SetError(&out).
		Post(r.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("request error: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("server returned error: %s, body: %s", resp.Status(), resp.String())
	}
	dets := make([]iface.Detection, 0, len(out.Boxes))
	for _, b := range out.Boxes {
		if b.Conf < r.cfg.Conf {
			continue
		}
		dets = append(dets, iface.Detection{
			XMin: b.X1, YMin: b.Y1, XMax: b.X2, YMax: b.Y2,
			Confidence: b.Conf,
			ClassID:    b.ClassID,
			Label:      b.Label,
		})
	}
	return dets, nil
}

func (r *RemoteBackend) CheckConfig() iface.EngineConfig { return r.cfg }

func (r *RemoteBackend) Destroy() {
	r.client = nil
	r.cfg = iface.EngineConfig{}
}
