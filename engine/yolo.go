package engine

import (
	iface "NoteDetClient/interface"
	"NoteDetClient/vision"
	"errors"
	"fmt"
	"image"
	"os"

	"gocv.io/x/gocv"
)

// YoloBackend runs a YOLOv5 or YOLOv8 ONNX export through OpenCV DNN.
type YoloBackend struct {
	net    gocv.Net
	loaded bool
	cfg    iface.EngineConfig
}

func (y *YoloBackend) LoadModel(cfg iface.EngineConfig) error {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}
	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return fmt.Errorf("failed to load YOLO model from %s", cfg.ModelPath)
	}
	if cfg.UseGPU {
		_ = net.SetPreferableBackend(gocv.NetBackendCUDA)
		_ = net.SetPreferableTarget(gocv.NetTargetCUDA)
	} else {
		_ = net.SetPreferableBackend(gocv.NetBackendDefault)
		_ = net.SetPreferableTarget(gocv.NetTargetCPU)
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = 640
	}
	y.net = net
	y.cfg = cfg
	y.loaded = true
	return nil
}

func (y *YoloBackend) Detect(img iface.ImageData) ([]iface.Detection, error) {
	if !y.loaded {
		return nil, ErrNotLoaded
	}
	m, err := vision.ToMat(img)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	size := image.Pt(y.cfg.InputSize, y.cfg.InputSize)
	blob := gocv.BlobFromImage(m, 1.0/255.0, size, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	y.net.SetInput(blob, "")
	output := y.net.Forward("")
	defer output.Close()

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output tensor: %w", err)
	}
	sx := float32(img.Width) / float32(y.cfg.InputSize)
	sy := float32(img.Height) / float32(y.cfg.InputSize)
	cands, err := yoloCandidates(data, output.Size(), y.cfg.Conf, sx, sy)
	if err != nil {
		return nil, err
	}
	return y.nms(cands), nil
}

func (y *YoloBackend) nms(cands []candidate) []iface.Detection {
	if len(cands) == 0 {
		return nil
	}
	boxes := make([]image.Rectangle, len(cands))
	scores := make([]float32, len(cands))
	for i, c := range cands {
		boxes[i] = c.rect()
		scores[i] = c.conf
	}
	indices := gocv.NMSBoxes(boxes, scores, y.cfg.Conf, y.cfg.Iou)
	dets := make([]iface.Detection, 0, len(indices))
	for _, idx := range indices {
		dets = append(dets, cands[idx].detection())
	}
	return dets
}

func (y *YoloBackend) CheckConfig() iface.EngineConfig { return y.cfg }

func (y *YoloBackend) Destroy() {
	if y.loaded {
		_ = y.net.Close()
	}
	y.loaded = false
	y.cfg = iface.EngineConfig{}
}

type candidate struct {
	x1, y1, x2, y2 float32
	conf           float32
	class          int
}

func (c candidate) rect() image.Rectangle {
	return image.Rect(int(c.x1), int(c.y1), int(c.x2), int(c.y2))
}

func (c candidate) detection() iface.Detection {
	d := iface.Detection{
		XMin: c.x1, YMin: c.y1, XMax: c.x2, YMax: c.y2,
		Confidence: c.conf,
		ClassID:    c.class,
	}
	if c.class >= 0 && c.class < len(COCOClasses) {
		d.Label = COCOClasses[c.class]
	}
	return d
}

// yoloCandidates reads the raw output tensor. dims is [1, N, 5+C] for YOLOv5
// (objectness in column 4) or [1, 4+C, N] for YOLOv8. Boxes are cx,cy,w,h in
// network input pixels and are scaled by sx, sy.
func yoloCandidates(data []float32, dims []int, conf, sx, sy float32) ([]candidate, error) {
	if len(dims) != 3 || dims[0] != 1 {
		return nil, fmt.Errorf("unexpected output shape %v", dims)
	}
	a, b := dims[1], dims[2]
	if len(data) < a*b {
		return nil, errors.New("output tensor shorter than its shape")
	}

	var cands []candidate
	add := func(cx, cy, w, h, score float32, class int) {
		if score < conf {
			return
		}
		cands = append(cands, candidate{
			x1: (cx - w/2) * sx, y1: (cy - h/2) * sy,
			x2: (cx + w/2) * sx, y2: (cy + h/2) * sy,
			conf: score, class: class,
		})
	}

	if a > b {
		rows, cols := a, b
		if cols < 6 {
			return nil, fmt.Errorf("yolov5 output needs at least 6 columns, got %d", cols)
		}
		for i := 0; i < rows; i++ {
			row := data[i*cols : (i+1)*cols]
			obj := row[4]
			best, class := float32(0), 0
			for c := 5; c < cols; c++ {
				if row[c] > best {
					best, class = row[c], c-5
				}
			}
			add(row[0], row[1], row[2], row[3], obj*best, class)
		}
		return cands, nil
	}

	attrs, rows := a, b
	if attrs < 5 {
		return nil, fmt.Errorf("yolov8 output needs at least 5 rows, got %d", attrs)
	}
	for i := 0; i < rows; i++ {
		best, class := float32(0), 0
		for c := 4; c < attrs; c++ {
			if s := data[c*rows+i]; s > best {
				best, class = s, c-4
			}
		}
		add(data[i], data[rows+i], data[2*rows+i], data[3*rows+i], best, class)
	}
	return cands, nil
}

// COCOClasses names class ids when no labels are configured.
var COCOClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator",
	"book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}
