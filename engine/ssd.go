package engine

import iface "NoteDetClient/interface"

// ssdMaxDetections is how many rows the TFLite detection postprocess emits.
const ssdMaxDetections = 20

// decodeSSD turns the TFLite_Detection_PostProcess outputs into pixel boxes.
// boxes holds ymin,xmin,ymax,xmax normalized to [0,1]; only scores strictly
// above threshold are kept.
func decodeSSD(boxes, classes, scores []float32, threshold float32, width, height int) []iface.Detection {
	n := min(ssdMaxDetections, len(scores), len(classes), len(boxes)/4)
	w, h := float32(width), float32(height)
	var dets []iface.Detection
	for i := 0; i < n; i++ {
		if scores[i] <= threshold {
			continue
		}
		dets = append(dets, iface.Detection{
			YMin:       boxes[4*i] * h,
			XMin:       boxes[4*i+1] * w,
			YMax:       boxes[4*i+2] * h,
			XMax:       boxes[4*i+3] * w,
			Confidence: scores[i],
			ClassID:    int(classes[i]),
		})
	}
	return dets
}

// normalizeInput maps 8 bit pixels to [-1, 1] for float input tensors.
func normalizeInput(px []byte) []float32 {
	out := make([]float32, len(px))
	for i, p := range px {
		out[i] = float32(p)/127.5 - 1
	}
	return out
}
