package engine

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"strings"

	"github.com/gen2brain/malgo"

	"github.com/openaudio/jackbridge/internal/errors"
	"github.com/openaudio/jackbridge/internal/logging"
)

// MalgoEngine is an Engine backed by miniaudio via the malgo bindings. The
// period size is fixed at device initialization, so the buffer size callback
// never fires concurrently with the process callback and the serialization
// guarantee documented on BufferSizeFunc holds trivially.
type MalgoEngine struct {
	SampleRate int
	PeriodSize uint32
	Debug      bool

	logger *slog.Logger
}

// NewMalgoEngine returns a miniaudio-backed engine with the given capture
// format.
func NewMalgoEngine(sampleRate int, periodSize uint32) *MalgoEngine {
	return &MalgoEngine{
		SampleRate: sampleRate,
		PeriodSize: periodSize,
		logger:     logging.ForService("engine").With("backend", "malgo"),
	}
}

// platformBackend picks the native audio backend for the current OS, nil
// lets miniaudio auto select.
func platformBackend() []malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return []malgo.Backend{malgo.BackendAlsa}
	case "windows":
		return []malgo.Backend{malgo.BackendWasapi}
	case "darwin":
		return []malgo.Backend{malgo.BackendCoreaudio}
	}
	return nil
}

// Devices returns a list of available audio capture devices.
func (e *MalgoEngine) Devices() ([]DeviceInfo, error) {
	ctx, err := malgo.InitContext(platformBackend(), malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize context: %w", err)
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}

	var devices []DeviceInfo
	for i, info := range infos {
		decodedID, err := hexToASCII(info.ID.String())
		if err != nil {
			e.logger.Warn("could not decode device ID", "index", i, "error", err)
			continue
		}
		devices = append(devices, DeviceInfo{
			Index: i,
			Name:  info.Name(),
			ID:    decodedID,
		})
	}

	return devices, nil
}

// Open creates a capture client on the device matching the given identifier.
// miniaudio has no server process, so ClientOptions.NoStartServer has no
// effect here.
func (e *MalgoEngine) Open(device string, _ ClientOptions) (Client, error) {
	ctx, err := malgo.InitContext(platformBackend(), malgo.ContextConfig{}, func(message string) {
		if e.Debug {
			e.logger.Debug("miniaudio", "message", strings.TrimSpace(message))
		}
	})
	if err != nil {
		return nil, errors.New(err).
			Component("engine").
			Category(errors.CategoryAudioEngine).
			Context("operation", "init_context").
			Build()
	}

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, errors.New(err).
			Component("engine").
			Category(errors.CategoryAudioEngine).
			Context("operation", "list_devices").
			Build()
	}

	selected, err := selectCaptureDevice(infos, device)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, err
	}

	e.logger.Info("capture device selected", "device", selected.name, "id", selected.id)

	return &malgoClient{
		ctx:        ctx,
		deviceInfo: selected,
		sampleRate: e.SampleRate,
		periodSize: e.PeriodSize,
		logger:     e.logger,
	}, nil
}

// captureDevice holds the selected capture device identity.
type captureDevice struct {
	name string
	id   string
	info malgo.DeviceInfo
}

// selectCaptureDevice matches the configured device string against the
// available capture devices by decoded ID or name substring.
func selectCaptureDevice(infos []malgo.DeviceInfo, device string) (captureDevice, error) {
	for i, info := range infos {
		decodedID, err := hexToASCII(info.ID.String())
		if err != nil {
			continue
		}
		if matchesDevice(decodedID, info, device) {
			return captureDevice{name: info.Name(), id: decodedID, info: infos[i]}, nil
		}
	}
	return captureDevice{}, errors.Newf("no suitable capture device found for %q", device).
		Component("engine").
		Category(errors.CategoryAudioEngine).
		Context("device", device).
		Build()
}

// matchesDevice checks if the device matches the identifier specified by the
// user.
func matchesDevice(decodedID string, info malgo.DeviceInfo, device string) bool {
	if device == "default" || (runtime.GOOS == "windows" && device == "sysdefault") {
		// There is no "sysdefault" on Windows, use miniaudio's default device.
		return info.IsDefault == 1
	}
	return decodedID == device || strings.Contains(info.Name(), device)
}

// hexToASCII converts a hexadecimal string to an ASCII string.
func hexToASCII(hexStr string) (string, error) {
	bytes, err := hex.DecodeString(hexStr)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(bytes), "\x00"), nil
}

// malgoClient adapts a miniaudio capture device to the Client interface.
// Each registered port maps to one channel of the interleaved capture
// stream; the data callback deinterleaves into per-port planar buffers
// before driving the process callback.
type malgoClient struct {
	ctx        *malgo.AllocatedContext
	deviceInfo captureDevice
	sampleRate int
	periodSize uint32
	logger     *slog.Logger

	ports        []*malgoPort
	processFn    ProcessFunc
	bufferSizeFn BufferSizeFunc
	device       *malgo.Device
	active       bool

	// frameTime counts frames delivered before the current period. Only
	// the data callback mutates it.
	frameTime uint64
}

type malgoPort struct {
	name    string
	samples []float32
}

func (p *malgoPort) Name() string { return p.name }

func (p *malgoPort) Samples(nframes uint32) []float32 {
	if int(nframes) > len(p.samples) {
		nframes = uint32(len(p.samples))
	}
	return p.samples[:nframes]
}

func (c *malgoClient) RegisterPort(name string) (Port, error) {
	if c.active {
		return nil, errors.Newf("cannot register port %q on an active client", name).
			Component("engine").
			Category(errors.CategoryState).
			Context("port", name).
			Build()
	}
	port := &malgoPort{
		name:    name,
		samples: make([]float32, c.periodSize),
	}
	c.ports = append(c.ports, port)
	return port, nil
}

func (c *malgoClient) UnregisterPort(port Port) error {
	for i, p := range c.ports {
		if p == port {
			c.ports = append(c.ports[:i], c.ports[i+1:]...)
			return nil
		}
	}
	return errors.Newf("port %q is not registered", port.Name()).
		Component("engine").
		Category(errors.CategoryState).
		Context("port", port.Name()).
		Build()
}

func (c *malgoClient) SetProcessCallback(fn ProcessFunc) error {
	c.processFn = fn
	return nil
}

func (c *malgoClient) SetBufferSizeCallback(fn BufferSizeFunc) error {
	c.bufferSizeFn = fn
	return nil
}

// Activate initializes and starts the capture device with one interleaved
// channel per registered port.
func (c *malgoClient) Activate() error {
	if c.active {
		return nil
	}
	if len(c.ports) == 0 {
		return errors.Newf("no ports registered").
			Component("engine").
			Category(errors.CategoryState).
			Build()
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(len(c.ports))
	deviceConfig.SampleRate = uint32(c.sampleRate)
	deviceConfig.PeriodSizeInFrames = c.periodSize
	deviceConfig.Alsa.NoMMap = 1
	deviceConfig.Capture.DeviceID = c.deviceInfo.info.ID.Pointer()

	channels := len(c.ports)

	onReceiveFrames := func(_, pSamples []byte, framecount uint32) {
		if framecount > c.periodSize {
			framecount = c.periodSize
		}
		// Deinterleave f32le capture data into per-port planar buffers.
		for ch := 0; ch < channels; ch++ {
			dst := c.ports[ch].samples
			for f := uint32(0); f < framecount; f++ {
				off := (int(f)*channels + ch) * 4
				dst[f] = math.Float32frombits(binary.LittleEndian.Uint32(pSamples[off : off+4]))
			}
		}
		if c.processFn != nil {
			c.processFn(framecount)
		}
		c.frameTime += uint64(framecount)
	}

	device, err := malgo.InitDevice(c.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onReceiveFrames,
	})
	if err != nil {
		return errors.New(err).
			Component("engine").
			Category(errors.CategoryAudioEngine).
			Context("operation", "init_device").
			Context("device", c.deviceInfo.name).
			Build()
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return errors.New(err).
			Component("engine").
			Category(errors.CategoryAudioEngine).
			Context("operation", "start_device").
			Context("device", c.deviceInfo.name).
			Build()
	}

	c.device = device
	c.active = true
	c.logger.Info("capture started", "device", c.deviceInfo.name, "channels", channels,
		"samplerate", c.sampleRate, "periodsize", c.periodSize)
	return nil
}

func (c *malgoClient) Deactivate() error {
	if !c.active {
		return nil
	}
	err := c.device.Stop()
	c.active = false
	return err
}

func (c *malgoClient) Close() error {
	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}
	if c.ctx != nil {
		err := c.ctx.Uninit()
		c.ctx.Free()
		c.ctx = nil
		return err
	}
	return nil
}

func (c *malgoClient) SampleRate() int { return c.sampleRate }

func (c *malgoClient) BufferSize() uint32 { return c.periodSize }

func (c *malgoClient) LastFrameTime() uint64 { return c.frameTime }

// FramesToTime converts a frame count to microseconds of engine time.
func (c *malgoClient) FramesToTime(frames uint64) uint64 {
	return frames * 1_000_000 / uint64(c.sampleRate)
}
