// Package vision converts between gocv matrices and the plain frames the rest
// of the module passes around.
package vision

import (
	iface "NoteDetClient/interface"
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

var ErrEmptyFrame = errors.New("empty frame")

// FromMat copies m into an ImageData. m can be reused afterwards.
func FromMat(m gocv.Mat) iface.ImageData {
	if m.Empty() {
		return iface.ImageData{}
	}
	return iface.ImageData{
		Data:     m.ToBytes(),
		Width:    m.Cols(),
		Height:   m.Rows(),
		Channels: m.Channels(),
	}
}

// ToMat builds a 3 channel BGR Mat. The caller closes it.
func ToMat(img iface.ImageData) (gocv.Mat, error) {
	if img.Empty() {
		return gocv.NewMat(), ErrEmptyFrame
	}
	var mt gocv.MatType
	switch img.Channels {
	case 1:
		mt = gocv.MatTypeCV8UC1
	case 3:
		mt = gocv.MatTypeCV8UC3
	case 4:
		mt = gocv.MatTypeCV8UC4
	default:
		return gocv.NewMat(), fmt.Errorf("unsupported channel count %d", img.Channels)
	}
	m, err := gocv.NewMatFromBytes(img.Height, img.Width, mt, img.Data)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("mat from frame: %w", err)
	}
	switch img.Channels {
	case 1:
		bgr := gocv.NewMat()
		gocv.CvtColor(m, &bgr, gocv.ColorGrayToBGR)
		m.Close()
		return bgr, nil
	case 4:
		bgr := gocv.NewMat()
		gocv.CvtColor(m, &bgr, gocv.ColorBGRAToBGR)
		m.Close()
		return bgr, nil
	}
	return m, nil
}

// EncodeJPEG compresses a frame; quality is clamped to 1..100.
func EncodeJPEG(img iface.ImageData, quality int) ([]byte, error) {
	m, err := ToMat(img)
	if err != nil {
		return nil, err
	}
	defer m.Close()
	if quality < 1 || quality > 100 {
		quality = 80
	}
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, m, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}

// JPEGEncoder returns EncodeJPEG bound to quality, for pipeline.Runtime.
func JPEGEncoder(quality int) func(iface.ImageData) ([]byte, error) {
	return func(img iface.ImageData) ([]byte, error) {
		return EncodeJPEG(img, quality)
	}
}

// DecodeJPEG is the inverse of EncodeJPEG.
func DecodeJPEG(b []byte) (iface.ImageData, error) {
	m, err := gocv.IMDecode(b, gocv.IMReadColor)
	if err != nil {
		return iface.ImageData{}, fmt.Errorf("jpeg decode: %w", err)
	}
	defer m.Close()
	if m.Empty() {
		return iface.ImageData{}, ErrEmptyFrame
	}
	return FromMat(m), nil
}

// Resize scales a frame to w x h.
func Resize(img iface.ImageData, w, h int) (iface.ImageData, error) {
	m, err := ToMat(img)
	if err != nil {
		return iface.ImageData{}, err
	}
	defer m.Close()
	if m.Cols() == w && m.Rows() == h {
		return FromMat(m), nil
	}
	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Resize(m, &dst, image.Pt(w, h), 0, 0, gocv.InterpolationLinear)
	return FromMat(dst), nil
}
