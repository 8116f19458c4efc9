package payload

import (
	iface "NoteDetClient/interface"
	"bytes"
	"encoding/csv"
	"strconv"
)

// CSVHeader is the column layout the receivers split on.
var CSVHeader = []string{"xmin", "ymin", "xmax", "ymax", "confidence", "class", "name"}

// CSVEncoder writes a header row and one row per detection, "\n" terminated.
type CSVEncoder struct{}

func (CSVEncoder) Format() string { return "csv" }

func (CSVEncoder) Encode(dets []iface.Detection) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(CSVHeader); err != nil {
		return nil, err
	}
	row := make([]string, len(CSVHeader))
	for _, d := range dets {
		row[0] = formatFloat(d.XMin)
		row[1] = formatFloat(d.YMin)
		row[2] = formatFloat(d.XMax)
		row[3] = formatFloat(d.YMax)
		row[4] = formatFloat(d.Confidence)
		row[5] = strconv.Itoa(d.ClassID)
		row[6] = d.Label
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
