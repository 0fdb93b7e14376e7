package bridge

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openaudio/jackbridge/internal/engine"
	"github.com/openaudio/jackbridge/internal/errors"
	"github.com/openaudio/jackbridge/internal/logging"
	"github.com/openaudio/jackbridge/internal/observability"
	"github.com/openaudio/jackbridge/internal/sink"
)

// DefaultPollInterval is how long the transfer worker sleeps when no slot is
// available. End-to-end latency is bounded by this plus one period.
const DefaultPollInterval = 20 * time.Millisecond

// Startup failure sentinels. Each maps to one step of Session.Start; any of
// them means the session was fully rolled back.
var (
	ErrClientOpen       = stderrors.New("could not open engine client")
	ErrPortRegister     = stderrors.New("could not register engine port")
	ErrCallbackRegister = stderrors.New("could not register engine callback")
	ErrActivate         = stderrors.New("could not activate engine client")
)

// Config describes one capture session.
type Config struct {
	// Device is the engine device identifier to open.
	Device string
	// Channels is the number of input ports to register.
	Channels int
	// StartServer permits the engine to start a server if none is running.
	StartServer bool
	// PollInterval overrides DefaultPollInterval when positive.
	PollInterval time.Duration
}

// Session owns one capture bridge: the engine client and its ports, the ring
// buffer, the transfer worker, and the lock serializing slot reads against
// buffer reallocation. Exactly one Session exists per active capture.
type Session struct {
	cfg    Config
	engine engine.Engine
	sink   sink.Sink

	logger  *slog.Logger
	metrics *observability.SessionMetrics

	client  engine.Client
	ports   []engine.Port
	layout  sink.SpeakerLayout
	started bool

	// mu guards ring buffer reallocation and slot reads. The process
	// callback never takes it: the engine guarantees the process and
	// buffer size callbacks are serialized against each other, and slot
	// publication to the worker goes through the atomic write cursor.
	mu         sync.Mutex
	rb         atomic.Pointer[RingBuffer]
	periodSize uint32

	active atomic.Bool
	wg     sync.WaitGroup

	// blockViews is reused for each forwarded block to keep the worker
	// loop allocation free.
	blockViews [][]float32
}

// Option configures a Session.
type Option func(*Session)

// WithMetrics attaches pre-resolved session metrics.
func WithMetrics(m *observability.SessionMetrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithLogger overrides the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// NewSession creates a session bridging eng to snk. The session is inert
// until Start is called.
func NewSession(eng engine.Engine, snk sink.Sink, cfg Config, opts ...Option) *Session {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	s := &Session{
		cfg:    cfg,
		engine: eng,
		sink:   snk,
		logger: logging.ForService("bridge").With("device", cfg.Device),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start brings the session up: open the client, register one input port per
// channel, register the period size and process callbacks, allocate the
// initial ring buffer, activate the client, then spawn the transfer worker.
// If any step fails, everything acquired so far is released in reverse order
// and a single error is returned; the session is left fully torn down.
// Starting an already started session is a no-op.
func (s *Session) Start() error {
	if s.started {
		return nil
	}

	client, err := s.engine.Open(s.cfg.Device, engine.ClientOptions{
		NoStartServer: !s.cfg.StartServer,
	})
	if err != nil {
		return s.startupError(ErrClientOpen, err, "device", s.cfg.Device)
	}
	s.client = client

	for i := 0; i < s.cfg.Channels; i++ {
		portName := fmt.Sprintf("in_%d", i+1)
		port, err := client.RegisterPort(portName)
		if err != nil {
			s.rollback(false)
			return s.startupError(ErrPortRegister, err, "port", portName)
		}
		s.ports = append(s.ports, port)
	}

	if err := client.SetBufferSizeCallback(s.onBufferSize); err != nil {
		s.rollback(false)
		return s.startupError(ErrCallbackRegister, err, "callback", "buffer_size")
	}
	if err := client.SetProcessCallback(s.onProcess); err != nil {
		s.rollback(false)
		return s.startupError(ErrCallbackRegister, err, "callback", "process")
	}

	s.periodSize = client.BufferSize()
	rb, err := s.allocateRing(s.periodSize)
	if err != nil {
		s.rollback(false)
		return err
	}
	s.rb.Store(rb)

	if err := client.Activate(); err != nil {
		s.rollback(false)
		return s.startupError(ErrActivate, err, "device", s.cfg.Device)
	}

	s.layout = SpeakersForChannels(s.cfg.Channels)
	s.blockViews = make([][]float32, s.cfg.Channels)
	s.active.Store(true)
	s.wg.Add(1)
	go s.transferWorker()

	s.started = true
	s.logger.Info("session started",
		"channels", s.cfg.Channels,
		"samplerate", client.SampleRate(),
		"periodsize", s.periodSize,
		"capacity", rb.Capacity(),
		"layout", string(s.layout))
	return nil
}

// Stop tears the session down in the reverse of startup order: clear the
// activation flag, deactivate the client so no further callbacks fire, join
// the transfer worker, unregister ports, close the client, release the ring
// buffer. Stopping a stopped session is a no-op.
func (s *Session) Stop() error {
	if !s.started {
		return nil
	}

	s.active.Store(false)
	if err := s.client.Deactivate(); err != nil {
		s.logger.Warn("client deactivation failed", "error", err)
	}
	s.wg.Wait()

	s.rollback(true)
	s.started = false
	s.logger.Info("session stopped")
	return nil
}

// rollback releases whatever resources exist, in reverse acquisition order.
// Used both for startup failures and for the tail of Stop.
func (s *Session) rollback(deactivated bool) {
	if s.client != nil {
		if !deactivated {
			// Startup failure after Activate also lands here; a
			// deactivate on a never-activated client is a no-op.
			if err := s.client.Deactivate(); err != nil {
				s.logger.Warn("client deactivation failed", "error", err)
			}
		}
		for _, port := range s.ports {
			if err := s.client.UnregisterPort(port); err != nil {
				s.logger.Warn("port unregister failed", "port", port.Name(), "error", err)
			}
		}
		s.ports = nil
		if err := s.client.Close(); err != nil {
			s.logger.Warn("client close failed", "error", err)
		}
		s.client = nil
	}

	if rb := s.rb.Swap(nil); rb != nil {
		rb.Release()
	}
}

// startupError logs and wraps one failed startup step.
func (s *Session) startupError(sentinel, cause error, key, value string) error {
	s.logger.Error(sentinel.Error(), "error", cause, key, value)
	return errors.New(fmt.Errorf("%w: %v", sentinel, cause)).
		Component("bridge").
		Category(errors.CategoryAudioEngine).
		Context(key, value).
		Build()
}

// BufferCapacity returns the current ring capacity in slots, or 0 when no
// ring is allocated.
func (s *Session) BufferCapacity() int {
	rb := s.rb.Load()
	if rb == nil {
		return 0
	}
	return rb.Capacity()
}

// Cursors returns the current read and write cursors, both 0 when no ring
// is allocated.
func (s *Session) Cursors() (read, write int64) {
	rb := s.rb.Load()
	if rb == nil {
		return 0, 0
	}
	return rb.ReadCursor(), rb.WriteCursor()
}

// allocateRing builds a ring buffer covering roughly one second of audio at
// the given period size.
func (s *Session) allocateRing(periodSize uint32) (*RingBuffer, error) {
	if periodSize == 0 {
		return nil, errors.Newf("invalid period size: 0 frames").
			Component("bridge").
			Category(errors.CategoryBuffer).
			Build()
	}
	capacity := s.client.SampleRate() / int(periodSize)
	rb, err := NewRingBuffer(capacity, int(periodSize), s.cfg.Channels)
	if err != nil {
		return nil, err
	}
	s.metrics.SetBufferCapacity(capacity)
	return rb, nil
}

// onProcess is the per-period processing callback, invoked synchronously on
// the engine's real-time thread. It copies each port's samples into the slot
// at the write cursor, records the frame count and the engine frame time,
// and publishes the slot with an atomic cursor increment. No locks, no
// allocations, no syscalls. The engine guarantees onBufferSize never runs
// concurrently with this function, which is what makes the unlocked ring
// buffer access safe.
func (s *Session) onProcess(nframes uint32) {
	rb := s.rb.Load()
	if rb == nil {
		return
	}

	for i, port := range s.ports {
		copy(rb.WriteSlotChannel(i), port.Samples(nframes))
	}

	timestamp := s.client.FramesToTime(s.client.LastFrameTime())
	rb.CommitWrite(nframes, timestamp)
	s.metrics.IncSlotsWritten()
}

// onBufferSize is invoked by the engine when the negotiated period size
// changes. It reallocates the ring buffer under the session lock; buffered
// but unread audio is discarded. This is the only path besides Stop that
// frees slot storage, and the only one that may block the transfer worker.
func (s *Session) onBufferSize(nframes uint32) {
	if nframes == s.periodSize {
		return
	}
	s.logger.Info("period size changed", "from", s.periodSize, "to", nframes)

	s.mu.Lock()
	defer s.mu.Unlock()

	if rb := s.rb.Swap(nil); rb != nil {
		rb.Release()
	}
	s.periodSize = nframes

	rb, err := s.allocateRing(nframes)
	if err != nil {
		// Capture cannot continue without a ring; the producer and
		// worker both tolerate the nil buffer until teardown.
		s.logger.Error("ring buffer reallocation failed", "error", err, "periodsize", nframes)
		return
	}
	s.rb.Store(rb)
	s.metrics.IncResizes()
}

// transferWorker continuously checks the ring buffer for unread slots and
// forwards them to the sink. It holds the session lock only across one slot
// read, never contending with the process callback. When the activation
// flag clears, the in-flight iteration completes and the loop exits.
func (s *Session) transferWorker() {
	defer s.wg.Done()

	for s.active.Load() {
		rb := s.rb.Load()
		if rb == nil || !rb.Available() {
			time.Sleep(s.cfg.PollInterval)
			continue
		}
		s.forwardSlot()
	}
}

// forwardSlot reads the slot at the read cursor under the session lock,
// hands it to the sink, then consumes the slot.
func (s *Session) forwardSlot() {
	s.mu.Lock()

	rb := s.rb.Load()
	if rb == nil || !rb.Available() {
		// Resized between the poll check and taking the lock.
		s.mu.Unlock()
		return
	}

	if rb.Overrun() {
		// The writer lapped the reader; the slot below holds newer
		// audio than the cursor suggests. Accepted bounded data loss.
		s.metrics.IncOverruns()
		s.logger.Debug("ring overrun, unread audio overwritten",
			"read", rb.ReadCursor(), "write", rb.WriteCursor(), "capacity", rb.Capacity())
	}

	frames, timestamp := rb.ReadSlotMeta()
	for ch := range s.blockViews {
		s.blockViews[ch] = rb.ReadSlotChannel(ch)
	}

	block := sink.Block{
		Format:     sink.FormatFloat32Planar,
		SampleRate: s.client.SampleRate(),
		Layout:     s.layout,
		Channels:   s.blockViews,
		Frames:     int(frames),
		Timestamp:  timestamp * 1000, // engine microseconds to nanoseconds
	}

	start := time.Now()
	err := s.sink.WriteBlock(&block)
	s.mu.Unlock()

	rb.AdvanceRead()

	if err != nil {
		s.metrics.IncSinkErrors()
		s.logger.Warn("sink rejected block", "error", err, "frames", frames)
		return
	}
	s.metrics.ObserveForward(time.Since(start).Seconds())
}
