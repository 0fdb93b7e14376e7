package bridge

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/openaudio/jackbridge/internal/engine"
	"github.com/openaudio/jackbridge/internal/sink"
)

var errInjected = errors.New("injected failure")

// fakePort is one input port of the fake engine.
type fakePort struct {
	name    string
	samples []float32
}

func (p *fakePort) Name() string { return p.name }

func (p *fakePort) Samples(nframes uint32) []float32 { return p.samples[:nframes] }

// fakeClient drives the session callbacks from the test goroutine, playing
// the role of the engine's real-time thread. pushPeriod and resize are
// called from a single goroutine, matching the serialization guarantee real
// engines provide.
type fakeClient struct {
	sampleRate int
	bufferSize uint32
	maxPeriod  uint32

	registerFailAt int // 1-based port index to fail at, 0 never
	processCbErr   error
	bufferCbErr    error
	activateErr    error

	ports        []*fakePort
	unregistered []string
	processFn    engine.ProcessFunc
	bufferSizeFn engine.BufferSizeFunc

	activated bool
	closed    bool
	frameTime uint64
}

func newFakeClient(sampleRate int, bufferSize uint32) *fakeClient {
	return &fakeClient{
		sampleRate: sampleRate,
		bufferSize: bufferSize,
		maxPeriod:  8192,
	}
}

func (c *fakeClient) RegisterPort(name string) (engine.Port, error) {
	if c.registerFailAt > 0 && len(c.ports)+1 == c.registerFailAt {
		return nil, errInjected
	}
	port := &fakePort{name: name, samples: make([]float32, c.maxPeriod)}
	c.ports = append(c.ports, port)
	return port, nil
}

func (c *fakeClient) UnregisterPort(port engine.Port) error {
	c.unregistered = append(c.unregistered, port.Name())
	return nil
}

func (c *fakeClient) SetProcessCallback(fn engine.ProcessFunc) error {
	if c.processCbErr != nil {
		return c.processCbErr
	}
	c.processFn = fn
	return nil
}

func (c *fakeClient) SetBufferSizeCallback(fn engine.BufferSizeFunc) error {
	if c.bufferCbErr != nil {
		return c.bufferCbErr
	}
	c.bufferSizeFn = fn
	return nil
}

func (c *fakeClient) Activate() error {
	if c.activateErr != nil {
		return c.activateErr
	}
	c.activated = true
	return nil
}

func (c *fakeClient) Deactivate() error {
	c.activated = false
	return nil
}

func (c *fakeClient) Close() error {
	c.closed = true
	return nil
}

func (c *fakeClient) SampleRate() int { return c.sampleRate }

func (c *fakeClient) BufferSize() uint32 { return c.bufferSize }

func (c *fakeClient) LastFrameTime() uint64 { return c.frameTime }

func (c *fakeClient) FramesToTime(frames uint64) uint64 {
	return frames * 1_000_000 / uint64(c.sampleRate)
}

// pushPeriod delivers one period of audio through the process callback.
func (c *fakeClient) pushPeriod(nframes uint32, channels [][]float32) {
	if !c.activated || c.processFn == nil {
		return
	}
	for i, port := range c.ports {
		copy(port.samples, channels[i])
	}
	c.processFn(nframes)
	c.frameTime += uint64(nframes)
}

// resize renegotiates the period size through the buffer size callback.
func (c *fakeClient) resize(nframes uint32) {
	c.bufferSize = nframes
	if c.bufferSizeFn != nil {
		c.bufferSizeFn(nframes)
	}
}

type fakeEngine struct {
	client  *fakeClient
	openErr error
	opens   int
}

func (e *fakeEngine) Open(device string, opts engine.ClientOptions) (engine.Client, error) {
	e.opens++
	if e.openErr != nil {
		return nil, e.openErr
	}
	return e.client, nil
}

func (e *fakeEngine) Devices() ([]engine.DeviceInfo, error) {
	return []engine.DeviceInfo{{Index: 0, Name: "fake", ID: "fake"}}, nil
}

// recordedBlock is a deep copy of one forwarded block.
type recordedBlock struct {
	frames     int
	sampleRate int
	layout     sink.SpeakerLayout
	timestamp  uint64
	channels   [][]float32
}

// recordSink captures every forwarded block.
type recordSink struct {
	mu     sync.Mutex
	blocks []recordedBlock
	err    error
	writes int
}

func (s *recordSink) WriteBlock(block *sink.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.err != nil {
		return s.err
	}
	rec := recordedBlock{
		frames:     block.Frames,
		sampleRate: block.SampleRate,
		layout:     block.Layout,
		timestamp:  block.Timestamp,
	}
	for _, channel := range block.Channels {
		samples := make([]float32, len(channel))
		copy(samples, channel)
		rec.channels = append(rec.channels, samples)
	}
	s.blocks = append(s.blocks, rec)
	return nil
}

func (s *recordSink) Close() error { return nil }

func (s *recordSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blocks)
}

func (s *recordSink) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *recordSink) block(i int) recordedBlock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocks[i]
}

// filled returns nframes samples all set to value.
func filled(nframes uint32, value float32) []float32 {
	samples := make([]float32, nframes)
	for i := range samples {
		samples[i] = value
	}
	return samples
}

func TestSessionEndToEnd(t *testing.T) {
	fc := newFakeClient(48000, 480)
	fe := &fakeEngine{client: fc}
	rs := &recordSink{}

	s := NewSession(fe, rs, Config{
		Device:       "default",
		Channels:     2,
		PollInterval: 5 * time.Millisecond,
	})
	require.NoError(t, s.Start())
	defer func() { require.NoError(t, s.Stop()) }()

	assert.Equal(t, 100, s.BufferCapacity(), "capacity should be sampleRate/periodSize")
	require.Len(t, fc.ports, 2)
	assert.Equal(t, "in_1", fc.ports[0].name)
	assert.Equal(t, "in_2", fc.ports[1].name)

	left := make([]float32, 480)
	right := make([]float32, 480)
	for i := range left {
		left[i] = float32(i) * 0.001
		right[i] = float32(i) * -0.001
	}
	fc.pushPeriod(480, [][]float32{left, right})

	require.Eventually(t, func() bool { return rs.count() == 1 },
		time.Second, time.Millisecond, "block should be forwarded within one poll interval")

	blk := rs.block(0)
	assert.Equal(t, 480, blk.frames)
	assert.Equal(t, 48000, blk.sampleRate)
	assert.Equal(t, sink.LayoutStereo, blk.layout)
	assert.Equal(t, uint64(0), blk.timestamp)
	require.Len(t, blk.channels, 2)
	assert.Equal(t, left, blk.channels[0])
	assert.Equal(t, right, blk.channels[1])

	// Second period carries a nonzero frame time: 480 frames at 48kHz is
	// 10ms, forwarded in nanoseconds.
	fc.pushPeriod(480, [][]float32{left, right})
	require.Eventually(t, func() bool { return rs.count() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, uint64(10_000_000), rs.block(1).timestamp)

	read, write := s.Cursors()
	assert.Equal(t, int64(2), write)
	assert.Equal(t, int64(2), read)
}

func TestSessionShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	fc := newFakeClient(48000, 480)
	fe := &fakeEngine{client: fc}
	rs := &recordSink{}

	s := NewSession(fe, rs, Config{
		Device:       "default",
		Channels:     2,
		PollInterval: 5 * time.Millisecond,
	})
	require.NoError(t, s.Start())

	fc.pushPeriod(480, [][]float32{filled(480, 0.1), filled(480, 0.2)})
	require.Eventually(t, func() bool { return rs.count() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, s.Stop())

	assert.False(t, fc.activated, "client should be deactivated")
	assert.True(t, fc.closed, "client should be closed")
	assert.Equal(t, []string{"in_1", "in_2"}, fc.unregistered)
	assert.Equal(t, 0, s.BufferCapacity(), "ring storage should be released")

	// Callbacks are gone with the engine; nothing is forwarded anymore.
	fc.pushPeriod(480, [][]float32{filled(480, 0.3), filled(480, 0.4)})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, rs.count())

	// Stopping again is a no-op.
	require.NoError(t, s.Stop())
}

func TestSessionIdempotentStart(t *testing.T) {
	fc := newFakeClient(48000, 480)
	fe := &fakeEngine{client: fc}

	s := NewSession(fe, &recordSink{}, Config{Device: "default", Channels: 1})
	require.NoError(t, s.Start())
	require.NoError(t, s.Start(), "second start should be a no-op")
	assert.Equal(t, 1, fe.opens, "client should only be opened once")
	require.NoError(t, s.Stop())
}

func TestSessionStartRollback(t *testing.T) {
	testCases := []struct {
		name         string
		setup        func(*fakeEngine, *fakeClient)
		wantSentinel error
		wantClosed   bool
		wantUnreg    []string
	}{
		{
			name:         "client_open_fails",
			setup:        func(fe *fakeEngine, fc *fakeClient) { fe.openErr = errInjected },
			wantSentinel: ErrClientOpen,
		},
		{
			name:         "port_register_fails",
			setup:        func(fe *fakeEngine, fc *fakeClient) { fc.registerFailAt = 2 },
			wantSentinel: ErrPortRegister,
			wantClosed:   true,
			wantUnreg:    []string{"in_1"},
		},
		{
			name:         "buffer_size_callback_fails",
			setup:        func(fe *fakeEngine, fc *fakeClient) { fc.bufferCbErr = errInjected },
			wantSentinel: ErrCallbackRegister,
			wantClosed:   true,
			wantUnreg:    []string{"in_1", "in_2"},
		},
		{
			name:         "process_callback_fails",
			setup:        func(fe *fakeEngine, fc *fakeClient) { fc.processCbErr = errInjected },
			wantSentinel: ErrCallbackRegister,
			wantClosed:   true,
			wantUnreg:    []string{"in_1", "in_2"},
		},
		{
			name:         "activate_fails",
			setup:        func(fe *fakeEngine, fc *fakeClient) { fc.activateErr = errInjected },
			wantSentinel: ErrActivate,
			wantClosed:   true,
			wantUnreg:    []string{"in_1", "in_2"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fc := newFakeClient(48000, 480)
			fe := &fakeEngine{client: fc}
			tc.setup(fe, fc)

			s := NewSession(fe, &recordSink{}, Config{Device: "default", Channels: 2})
			err := s.Start()
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantSentinel)

			assert.Equal(t, tc.wantClosed, fc.closed)
			assert.Equal(t, tc.wantUnreg, fc.unregistered)
			assert.False(t, fc.activated)
			assert.Equal(t, 0, s.BufferCapacity(), "no ring should survive a failed start")
		})
	}
}

func TestSessionStartAllocationFailure(t *testing.T) {
	// A period size larger than the sample rate yields a zero-slot ring.
	fc := newFakeClient(8000, 16000)
	fe := &fakeEngine{client: fc}

	s := NewSession(fe, &recordSink{}, Config{Device: "default", Channels: 1})
	err := s.Start()
	require.Error(t, err)
	assert.True(t, fc.closed, "allocation failure must roll the client back")
	assert.Equal(t, 0, s.BufferCapacity())
}

func TestSessionResize(t *testing.T) {
	fc := newFakeClient(48000, 480)
	fe := &fakeEngine{client: fc}
	rs := &recordSink{}

	s := NewSession(fe, rs, Config{
		Device:       "default",
		Channels:     1,
		PollInterval: 5 * time.Millisecond,
	})
	require.NoError(t, s.Start())
	defer func() { require.NoError(t, s.Stop()) }()

	fc.pushPeriod(480, [][]float32{filled(480, 0.25)})
	require.Eventually(t, func() bool { return rs.count() == 1 }, time.Second, time.Millisecond)

	fc.resize(960)
	assert.Equal(t, 50, s.BufferCapacity(), "ring should be sized for the new period")
	read, write := s.Cursors()
	assert.Equal(t, int64(0), read, "resize should reset the read cursor")
	assert.Equal(t, int64(0), write, "resize should reset the write cursor")

	// Resizing to the current size is a no-op.
	fc.resize(960)
	assert.Equal(t, 50, s.BufferCapacity())

	fc.pushPeriod(960, [][]float32{filled(960, 0.75)})
	require.Eventually(t, func() bool { return rs.count() == 2 }, time.Second, time.Millisecond)

	blk := rs.block(1)
	assert.Equal(t, 960, blk.frames)
	for i, sample := range blk.channels[0] {
		require.Equal(t, float32(0.75), sample, "post-resize block holds stale sample at %d", i)
	}
}

// TestSessionResizeDiscardsPending verifies that unread slots buffered at
// the moment of a resize are discarded rather than forwarded.
func TestSessionResizeDiscardsPending(t *testing.T) {
	fc := newFakeClient(48000, 480)
	fe := &fakeEngine{client: fc}
	rs := &recordSink{}

	// A long poll interval keeps the worker asleep while we stage slots.
	s := NewSession(fe, rs, Config{
		Device:       "default",
		Channels:     1,
		PollInterval: 50 * time.Millisecond,
	})
	require.NoError(t, s.Start())
	defer func() { require.NoError(t, s.Stop()) }()

	for i := 0; i < 3; i++ {
		fc.pushPeriod(480, [][]float32{filled(480, 0.25)})
	}
	fc.resize(240)

	read, write := s.Cursors()
	assert.Equal(t, int64(0), read)
	assert.Equal(t, int64(0), write)
	assert.Equal(t, 200, s.BufferCapacity())

	fc.pushPeriod(240, [][]float32{filled(240, 0.5)})
	require.Eventually(t, func() bool {
		for i := 0; i < rs.count(); i++ {
			if rs.block(i).frames == 240 {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)

	// Blocks forwarded before the resize landed are fine, but nothing
	// staged across it may leak: every post-resize block holds only
	// post-resize audio.
	for i := 0; i < rs.count(); i++ {
		blk := rs.block(i)
		if blk.frames == 240 {
			assert.Equal(t, float32(0.5), blk.channels[0][0])
		}
	}
}

func TestSessionPartialPeriodForwarded(t *testing.T) {
	fc := newFakeClient(48000, 480)
	fe := &fakeEngine{client: fc}
	rs := &recordSink{}

	s := NewSession(fe, rs, Config{
		Device:       "default",
		Channels:     1,
		PollInterval: 5 * time.Millisecond,
	})
	require.NoError(t, s.Start())
	defer func() { require.NoError(t, s.Stop()) }()

	fc.pushPeriod(100, [][]float32{filled(100, 0.5)})
	require.Eventually(t, func() bool { return rs.count() == 1 }, time.Second, time.Millisecond)

	blk := rs.block(0)
	assert.Equal(t, 100, blk.frames, "exactly the reported frame count is forwarded")
	assert.Len(t, blk.channels[0], 100)
}

func TestSessionSinkErrorAdvancesRead(t *testing.T) {
	fc := newFakeClient(48000, 480)
	fe := &fakeEngine{client: fc}
	rs := &recordSink{err: fmt.Errorf("sink is broken")}

	s := NewSession(fe, rs, Config{
		Device:       "default",
		Channels:     1,
		PollInterval: 5 * time.Millisecond,
	})
	require.NoError(t, s.Start())
	defer func() { require.NoError(t, s.Stop()) }()

	fc.pushPeriod(480, [][]float32{filled(480, 0.5)})

	// The slot is consumed even though the sink rejects it; the worker
	// must not spin on a poisoned slot.
	require.Eventually(t, func() bool {
		read, _ := s.Cursors()
		return read == 1
	}, time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, rs.writeCount(), 1)
	assert.Equal(t, 0, rs.count())
}
