package iface

// Backend is an object detector. Implementations need not be safe for
// concurrent use; engine.Detector serializes access.
type Backend interface {
	LoadModel(cfg EngineConfig) error
	Detect(img ImageData) ([]Detection, error)
	Destroy()
	CheckConfig() EngineConfig
}

// Source produces frames from a capture device.
type Source interface {
	Open() error
	// Read returns the next frame. Any error ends the stream.
	Read() (ImageData, error)
	Close() error
}

// Sender delivers one encoded payload to a fixed destination.
type Sender interface {
	Send(payload []byte) error
	Close() error
}
