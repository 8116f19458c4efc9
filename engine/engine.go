// Package engine hosts the detector backends and the state machine that
// fronts them.
package engine

import (
	iface "NoteDetClient/interface"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory 创建一个尚未加载模型的 backend
type Factory func() iface.Backend

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{
		"yolo":    func() iface.Backend { return &YoloBackend{} },
		"edgetpu": func() iface.Backend { return &EdgeTPUBackend{} },
		"remote":  func() iface.Backend { return &RemoteBackend{} },
	}
)

// Register 以 name 注册（或替换）一个 backend
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(name)] = f
}

// Backends 返回已注册的 backend 名称
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// New 创建 cfg.Backend 指定的 backend 并加载模型，失败不重试
func New(cfg iface.EngineConfig) (*Detector, error) {
	registryMu.RLock()
	f, ok := registry[strings.ToLower(cfg.Backend)]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Backend)
	}
	d := NewDetector(f())
	if err := d.LoadModel(cfg); err != nil {
		d.Destroy()
		return nil, err
	}
	return d, nil
}
