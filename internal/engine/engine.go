// Package engine abstracts the real-time audio capture engine behind a
// JACK-style client and port model. A Client delivers fixed-size periods of
// planar 32-bit float samples through a process callback running on the
// engine's real-time thread.
package engine

// ProcessFunc is invoked once per audio period on the engine's real-time
// thread with the number of frames available on every registered port.
// Implementations must be bounded, allocation-free and lock-free.
type ProcessFunc func(nframes uint32)

// BufferSizeFunc is invoked when the engine's negotiated period size changes.
//
// Engines must never invoke the buffer size callback concurrently with the
// process callback. Session relies on this serialization guarantee to keep
// its producer path lock-free; an engine that cannot provide it must not be
// used with this package.
type BufferSizeFunc func(nframes uint32)

// ClientOptions carries options for opening an engine client.
type ClientOptions struct {
	// NoStartServer prevents the engine from auto-starting a server
	// process when none is running.
	NoStartServer bool
}

// DeviceInfo describes a capture device known to the engine.
type DeviceInfo struct {
	Index int
	Name  string
	ID    string
}

// Engine opens capture clients by device identifier.
type Engine interface {
	// Open creates a client session on the named device.
	Open(device string, opts ClientOptions) (Client, error)

	// Devices returns the capture devices available to this engine.
	Devices() ([]DeviceInfo, error)
}

// Client is an open engine session. Callbacks fire only between Activate and
// Deactivate.
type Client interface {
	// RegisterPort registers one input port. Ports must be registered
	// before Activate.
	RegisterPort(name string) (Port, error)

	// UnregisterPort removes a previously registered port.
	UnregisterPort(port Port) error

	// SetProcessCallback registers the per-period processing callback.
	SetProcessCallback(fn ProcessFunc) error

	// SetBufferSizeCallback registers the period-size-change callback.
	SetBufferSizeCallback(fn BufferSizeFunc) error

	// Activate starts the client so callbacks begin firing.
	Activate() error

	// Deactivate stops the client; no callback runs after it returns.
	Deactivate() error

	// Close releases the client. Ports must be unregistered first.
	Close() error

	// SampleRate returns the engine sample rate in Hz.
	SampleRate() int

	// BufferSize returns the current period size in frames.
	BufferSize() uint32

	// LastFrameTime returns the frame time at the start of the current
	// period. Valid only inside the process callback.
	LastFrameTime() uint64

	// FramesToTime converts a frame time to engine time in microseconds.
	FramesToTime(frames uint64) uint64
}

// Port is one registered input port. Samples returns the port's buffer for
// the current period; the slice is only valid inside the process callback
// and must not be retained.
type Port interface {
	Name() string
	Samples(nframes uint32) []float32
}
