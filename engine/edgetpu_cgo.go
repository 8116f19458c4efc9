//go:build edgetpu && cgo

package engine

/*
#cgo LDFLAGS: -ltensorflowlite_c -ldl
#include <stdlib.h>
#include <dlfcn.h>
#include "tensorflow/lite/c/c_api.h"

typedef TfLiteDelegate* (*create_delegate_fn)(char**, char**, size_t, void (*)(const char*));
typedef void (*destroy_delegate_fn)(TfLiteDelegate*);

static void* open_lib(const char* path) {
	return dlopen(path, RTLD_NOW | RTLD_LOCAL);
}

static const char* last_dl_error() {
	const char* e = dlerror();
	return e ? e : "unknown dlopen error";
}

static TfLiteDelegate* create_delegate(void* lib) {
	create_delegate_fn fn = (create_delegate_fn)dlsym(lib, "tflite_plugin_create_delegate");
	if (!fn) return NULL;
	return fn(NULL, NULL, 0, NULL);
}

static void destroy_delegate(void* lib, TfLiteDelegate* d) {
	destroy_delegate_fn fn = (destroy_delegate_fn)dlsym(lib, "tflite_plugin_destroy_delegate");
	if (fn && d) fn(d);
}
*/
import "C"

import (
	iface "NoteDetClient/interface"
	"NoteDetClient/vision"
	"errors"
	"fmt"
	"runtime"
	"unsafe"
)

type delegateHandle struct {
	lib      unsafe.Pointer
	delegate *C.TfLiteDelegate
}

func openDelegate(path string) (delegateHandle, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))
	lib := C.open_lib(cpath)
	if lib == nil {
		return delegateHandle{}, errors.New(C.GoString(C.last_dl_error()))
	}
	d := C.create_delegate(lib)
	if d == nil {
		C.dlclose(lib)
		return delegateHandle{}, errors.New("tflite_plugin_create_delegate returned no delegate")
	}
	return delegateHandle{lib: lib, delegate: d}, nil
}

func (h delegateHandle) close() {
	if h.lib == nil {
		return
	}
	C.destroy_delegate(h.lib, h.delegate)
	C.dlclose(h.lib)
}

// EdgeTPUBackend runs a quantized SSD model on a Coral Edge TPU.
type EdgeTPUBackend struct {
	cfg      iface.EngineConfig
	handle   delegateHandle
	model    *C.TfLiteModel
	options  *C.TfLiteInterpreterOptions
	interp   *C.TfLiteInterpreter
	input    *C.TfLiteTensor
	delegate string
}

func (e *EdgeTPUBackend) LoadModel(cfg iface.EngineConfig) error {
	paths := cfg.DelegatePaths
	if len(paths) == 0 {
		paths = DefaultDelegatePaths()
	}
	h, used, err := loadFirst(paths, openDelegate)
	if err != nil {
		return err
	}
	e.handle = h
	e.delegate = used

	cpath := C.CString(cfg.ModelPath)
	defer C.free(unsafe.Pointer(cpath))
	e.model = C.TfLiteModelCreateFromFile(cpath)
	if e.model == nil {
		e.Destroy()
		return fmt.Errorf("failed to load model %s", cfg.ModelPath)
	}
	e.options = C.TfLiteInterpreterOptionsCreate()
	C.TfLiteInterpreterOptionsSetNumThreads(e.options, C.int32_t(runtime.NumCPU()))
	C.TfLiteInterpreterOptionsAddDelegate(e.options, e.handle.delegate)
	e.interp = C.TfLiteInterpreterCreate(e.model, e.options)
	if e.interp == nil {
		e.Destroy()
		return errors.New("failed to construct interpreter")
	}
	if C.TfLiteInterpreterAllocateTensors(e.interp) != C.kTfLiteOk {
		e.Destroy()
		return errors.New("failed to allocate tensors")
	}
	e.input = C.TfLiteInterpreterGetInputTensor(e.interp, 0)
	if cfg.InputSize <= 0 {
		cfg.InputSize = 320
	}
	if cfg.Conf == 0 {
		cfg.Conf = 0.5
	}
	e.cfg = cfg
	return nil
}

func (e *EdgeTPUBackend) Detect(img iface.ImageData) ([]iface.Detection, error) {
	if e.interp == nil {
		return nil, ErrNotLoaded
	}
	resized, err := vision.Resize(img, e.cfg.InputSize, e.cfg.InputSize)
	if err != nil {
		return nil, err
	}

	switch C.TfLiteTensorType(e.input) {
	case C.kTfLiteUInt8:
		if err := e.copyIn(unsafe.Pointer(&resized.Data[0]), len(resized.Data)); err != nil {
			return nil, err
		}
	case C.kTfLiteFloat32:
		in := normalizeInput(resized.Data)
		if err := e.copyIn(unsafe.Pointer(&in[0]), len(in)*4); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported input tensor type %d", int(C.TfLiteTensorType(e.input)))
	}

	if C.TfLiteInterpreterInvoke(e.interp) != C.kTfLiteOk {
		return nil, errors.New("failed to invoke interpreter")
	}
	boxes := e.output(0)
	classes := e.output(1)
	scores := e.output(2)
	return decodeSSD(boxes, classes, scores, e.cfg.Conf, img.Width, img.Height), nil
}

func (e *EdgeTPUBackend) copyIn(p unsafe.Pointer, n int) error {
	if int(C.TfLiteTensorByteSize(e.input)) != n {
		return fmt.Errorf("input tensor wants %d bytes, got %d", int(C.TfLiteTensorByteSize(e.input)), n)
	}
	if C.TfLiteTensorCopyFromBuffer(e.input, p, C.size_t(n)) != C.kTfLiteOk {
		return errors.New("copy input tensor failed")
	}
	return nil
}

func (e *EdgeTPUBackend) output(i int) []float32 {
	t := C.TfLiteInterpreterGetOutputTensor(e.interp, C.int32_t(i))
	if t == nil {
		return nil
	}
	n := int(C.TfLiteTensorByteSize(t)) / 4
	if n == 0 {
		return nil
	}
	out := make([]float32, n)
	C.TfLiteTensorCopyToBuffer(t, unsafe.Pointer(&out[0]), C.size_t(n*4))
	return out
}

func (e *EdgeTPUBackend) CheckConfig() iface.EngineConfig { return e.cfg }

// DelegatePath reports which library was loaded.
func (e *EdgeTPUBackend) DelegatePath() string { return e.delegate }

func (e *EdgeTPUBackend) Destroy() {
	if e.interp != nil {
		C.TfLiteInterpreterDelete(e.interp)
		e.interp = nil
	}
	if e.options != nil {
		C.TfLiteInterpreterOptionsDelete(e.options)
		e.options = nil
	}
	if e.model != nil {
		C.TfLiteModelDelete(e.model)
		e.model = nil
	}
	e.handle.close()
	e.handle = delegateHandle{}
	e.input = nil
	e.cfg = iface.EngineConfig{}
}
