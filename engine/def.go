package engine

import (
	iface "NoteDetClient/interface"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"
)

const UNREGISTERED = 0x0001
const REGISTERED = 0x0002
const IDLE = 0x0003
const BUSY = 0x0004

var (
	ErrNotRegistered = errors.New("detector not registered")
	ErrNotLoaded     = errors.New("model not loaded")
	ErrBusy          = errors.New("detector is busy")
)

// ReadLinesReadFile 读取 path 中的非空行
func ReadLinesReadFile(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw := strings.Split(string(b), "\n")
	var lines []string
	for _, l := range raw {
		// 支持 Windows CRLF，去掉尾部的 '\r'
		l = strings.TrimRight(l, "\r")
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

// ParseNames 将 NamesConf 解析为类别列表，内联数据可以是任意字符串切片
// （yaml.v3 解析序列得到的是 []any）
func ParseNames(names iface.NamesConf) ([]string, error) {
	if names.Data == nil {
		return nil, nil
	}
	if names.IsFile {
		path, ok := names.Data.(string)
		if !ok {
			return nil, fmt.Errorf("names file must be a path, got %T", names.Data)
		}
		lines, err := ReadLinesReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read labels: %w", err)
		}
		return lines, nil
	}
	rv := reflect.ValueOf(names.Data)
	if rv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("names must be a slice or a file path, got %T", names.Data)
	}
	n := rv.Len()
	out := make([]string, n)
	for i := 0; i < n; i++ {
		s, ok := rv.Index(i).Interface().(string)
		if !ok {
			return nil, fmt.Errorf("names[%d] is %T, want string", i, rv.Index(i).Interface())
		}
		out[i] = s
	}
	return out, nil
}

// Detector 在 backend 前加一层状态机 UNREGISTERED -> REGISTERED -> IDLE <-> BUSY，
// 并为结果填充类别名。正在推理时再次调用 Detect 直接返回 ErrBusy，不排队
type Detector struct {
	mu      sync.Mutex
	backend iface.Backend
	cfg     iface.EngineConfig
	Names   []string
	State   int
}

func NewDetector(b iface.Backend) *Detector {
	d := &Detector{backend: b, State: UNREGISTERED}
	if b != nil {
		d.State = REGISTERED
	}
	return d
}

func (d *Detector) LoadModel(cfg iface.EngineConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.State {
	case UNREGISTERED:
		return ErrNotRegistered
	case BUSY:
		return ErrBusy
	}
	names, err := ParseNames(cfg.Names)
	if err != nil {
		return err
	}
	if err := d.backend.LoadModel(cfg); err != nil {
		return fmt.Errorf("%s load model: %w", cfg.Backend, err)
	}
	d.Names = names
	d.cfg = cfg
	d.State = IDLE
	return nil
}

func (d *Detector) Detect(img iface.ImageData) ([]iface.Detection, error) {
	d.mu.Lock()
	switch d.State {
	case UNREGISTERED:
		d.mu.Unlock()
		return nil, ErrNotRegistered
	case REGISTERED:
		d.mu.Unlock()
		return nil, ErrNotLoaded
	case BUSY:
		d.mu.Unlock()
		return nil, ErrBusy
	}
	d.State = BUSY
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		if d.State == BUSY {
			d.State = IDLE
		}
		d.mu.Unlock()
	}()

	dets, err := d.backend.Detect(img)
	if err != nil {
		return nil, err
	}
	for i := range dets {
		dets[i].Label = d.labelFor(dets[i])
	}
	return dets, nil
}

func (d *Detector) labelFor(det iface.Detection) string {
	if det.ClassID >= 0 && det.ClassID < len(d.Names) {
		return d.Names[det.ClassID]
	}
	if det.Label != "" {
		return det.Label
	}
	return fmt.Sprintf("class_%d", det.ClassID)
}

func (d *Detector) CheckConfig() iface.EngineConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	cfg := d.cfg
	cfg.Names = iface.NamesConf{IsFile: false, Data: append([]string(nil), d.Names...)}
	return cfg
}

func (d *Detector) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.backend != nil {
		d.backend.Destroy()
	}
	d.backend = nil
	d.cfg = iface.EngineConfig{}
	d.Names = nil
	d.State = UNREGISTERED
}
