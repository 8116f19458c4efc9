package payload

import (
	iface "NoteDetClient/interface"

	"github.com/goccy/go-json"
)

type jsonDetection struct {
	XMin       float32 `json:"xmin"`
	YMin       float32 `json:"ymin"`
	XMax       float32 `json:"xmax"`
	YMax       float32 `json:"ymax"`
	Confidence float32 `json:"confidence"`
	Class      string  `json:"class"`
}

// JSONEncoder writes a compact array of objects, class holding the label.
type JSONEncoder struct{}

func (JSONEncoder) Format() string { return "json" }

func (JSONEncoder) Encode(dets []iface.Detection) ([]byte, error) {
	rows := make([]jsonDetection, len(dets))
	for i, d := range dets {
		rows[i] = jsonDetection{
			XMin:       d.XMin,
			YMin:       d.YMin,
			XMax:       d.XMax,
			YMax:       d.YMax,
			Confidence: d.Confidence,
			Class:      d.Label,
		}
	}
	return json.Marshal(rows)
}
