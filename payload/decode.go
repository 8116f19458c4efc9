package payload

import (
	iface "NoteDetClient/interface"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Decode parses a datagram produced by either encoder. Rows whose column
// count does not match the header are skipped and counted.
func Decode(b []byte) (dets []iface.Detection, skipped int, err error) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 {
		return nil, 0, nil
	}
	if trimmed[0] == '[' {
		dets, err = decodeJSON(trimmed)
		return dets, 0, err
	}
	return decodeCSV(trimmed)
}

func decodeJSON(b []byte) ([]iface.Detection, error) {
	var rows []jsonDetection
	if err := json.Unmarshal(b, &rows); err != nil {
		return nil, fmt.Errorf("decode json payload: %w", err)
	}
	dets := make([]iface.Detection, len(rows))
	for i, r := range rows {
		dets[i] = iface.Detection{
			XMin:       r.XMin,
			YMin:       r.YMin,
			XMax:       r.XMax,
			YMax:       r.YMax,
			Confidence: r.Confidence,
			ClassID:    -1,
			Label:      r.Class,
		}
	}
	return dets, nil
}

func decodeCSV(b []byte) ([]iface.Detection, int, error) {
	r := csv.NewReader(bytes.NewReader(b))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("decode csv header: %w", err)
	}
	col := map[string]int{}
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	for _, name := range []string{"xmin", "ymin", "xmax", "ymax"} {
		if _, ok := col[name]; !ok {
			return nil, 0, fmt.Errorf("decode csv header: missing column %q", name)
		}
	}

	var dets []iface.Detection
	skipped := 0
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return dets, skipped, fmt.Errorf("decode csv row: %w", err)
		}
		if len(rec) != len(header) {
			skipped++
			continue
		}
		d, ok := csvRow(rec, col)
		if !ok {
			skipped++
			continue
		}
		dets = append(dets, d)
	}
	return dets, skipped, nil
}

func csvRow(rec []string, col map[string]int) (iface.Detection, bool) {
	num := func(name string) (float32, bool) {
		i, ok := col[name]
		if !ok {
			return 0, true
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 32)
		return float32(f), err == nil
	}
	d := iface.Detection{ClassID: -1}
	var ok bool
	if d.XMin, ok = num("xmin"); !ok {
		return d, false
	}
	if d.YMin, ok = num("ymin"); !ok {
		return d, false
	}
	if d.XMax, ok = num("xmax"); !ok {
		return d, false
	}
	if d.YMax, ok = num("ymax"); !ok {
		return d, false
	}
	if d.Confidence, ok = num("confidence"); !ok {
		return d, false
	}
	if i, has := col["class"]; has {
		if id, err := strconv.Atoi(strings.TrimSpace(rec[i])); err == nil {
			d.ClassID = id
		} else {
			d.Label = rec[i]
		}
	}
	if i, has := col["name"]; has {
		d.Label = rec[i]
	}
	return d, true
}
