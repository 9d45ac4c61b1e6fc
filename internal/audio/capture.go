// Package audio handles audio device capture with backpressure
package audio

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	apperrors "github.com/GriffinCanCode/good-listener/backend/sod/internal/errors"
	"github.com/GriffinCanCode/good-listener/backend/sod/internal/resilience"
	"github.com/GriffinCanCode/good-listener/backend/sod/pkg/sod"
)

// Capture sources.
const (
	SourceUser   = "user"
	SourceSystem = "system"
)

// Chunk represents a captured audio chunk.
type Chunk struct {
	Data      []float32
	DeviceID  string
	Source    string // SourceUser or SourceSystem
	Timestamp int64
}

// PCM16 returns the chunk as 16-bit samples.
func (c Chunk) PCM16() []int16 { return Float32ToPCM16(c.Data) }

// Options configures a Capturer.
type Options struct {
	SampleRate      int
	BufferSize      int
	FramesPerBuffer int
	SystemAudio     bool
	ExcludedDevices []string
	Retry           resilience.RetryConfig
	Breaker         resilience.Config
	// OnStateChange observes per-device breaker transitions.
	OnStateChange func(device string, from, to resilience.State)
}

// inputStream is the part of a portaudio stream the read loop uses.
type inputStream interface {
	Read() error
	Close() error
}

// openFunc opens and starts a stream that fills buf on every Read.
type openFunc func(buf []float32) (inputStream, error)

// Capturer captures audio from devices with backpressure. Each device runs
// under a supervisor that reopens the stream after read failures.
type Capturer struct {
	opts   Options
	outCh  chan Chunk
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	active map[string]*deviceCapture
}

type deviceCapture struct {
	mu      sync.Mutex
	stream  inputStream
	breaker *resilience.Breaker
	source  string
}

// DeviceStatus describes a supervised device.
type DeviceStatus struct {
	Name     string `json:"name"`
	Source   string `json:"source"`
	Open     bool   `json:"open"`
	Breaker  string `json:"breaker"`
	Failures int    `json:"failures"`
}

// NewCapturer initializes portaudio and returns a capturer.
func NewCapturer(opts Options) (*Capturer, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeAudioDeviceFailed, "initialize portaudio")
	}
	return newCapturer(opts), nil
}

func newCapturer(opts Options) *Capturer {
	if opts.SampleRate == 0 {
		opts.SampleRate = sod.SampleRate
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 100
	}
	if opts.FramesPerBuffer <= 0 {
		opts.FramesPerBuffer = 4 * sod.FrameSamples // 40ms at 16kHz
	}
	if opts.Retry.IsRetryable == nil && opts.Retry.MaxRetries == 0 {
		opts.Retry = resilience.DeviceRetryConfig()
	}
	if opts.Breaker == (resilience.Config{}) {
		opts.Breaker = resilience.DeviceConfig()
	}
	return &Capturer{
		opts:   opts,
		outCh:  make(chan Chunk, opts.BufferSize),
		active: make(map[string]*deviceCapture),
	}
}

// Output returns the channel for receiving audio chunks.
func (c *Capturer) Output() <-chan Chunk { return c.outCh }

// Start begins capturing audio from available devices.
func (c *Capturer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return nil
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	devices, err := portaudio.Devices()
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeAudioDeviceFailed, "list devices")
	}

	// Collect candidates by source type, pick best user mic
	var userMic *portaudio.DeviceInfo
	var systemDevs []*portaudio.DeviceInfo

	for _, dev := range devices {
		if dev.MaxInputChannels < 1 || c.isExcluded(dev.Name) {
			continue
		}

		switch c.classifyDevice(dev.Name) {
		case SourceSystem:
			if c.opts.SystemAudio {
				systemDevs = append(systemDevs, dev)
			}
		case SourceUser:
			// Prefer built-in/MacBook mic over others
			if userMic == nil || c.preferDevice(dev.Name, userMic.Name) {
				userMic = dev
			}
		}
	}

	if userMic != nil {
		c.supervise(ctx, userMic.Name, SourceUser, c.portaudioOpener(userMic))
	}
	for _, dev := range systemDevs {
		c.supervise(ctx, dev.Name, SourceSystem, c.portaudioOpener(dev))
	}
	if userMic == nil && len(systemDevs) == 0 {
		slog.Warn("no capture devices matched")
	}
	return nil
}

func (c *Capturer) portaudioOpener(dev *portaudio.DeviceInfo) openFunc {
	return func(buf []float32) (inputStream, error) {
		params := portaudio.StreamParameters{
			Input: portaudio.StreamDeviceParameters{
				Device:   dev,
				Channels: 1,
				Latency:  dev.DefaultLowInputLatency,
			},
			SampleRate:      float64(c.opts.SampleRate),
			FramesPerBuffer: len(buf),
		}
		stream, err := portaudio.OpenStream(params, buf)
		if err != nil {
			return nil, err
		}
		if err := stream.Start(); err != nil {
			stream.Close()
			return nil, err
		}
		return &paStream{Stream: stream}, nil
	}
}

// paStream stops the stream before closing it, once.
type paStream struct {
	*portaudio.Stream
	once sync.Once
	err  error
}

func (s *paStream) Close() error {
	s.once.Do(func() {
		_ = s.Stream.Stop()
		s.err = s.Stream.Close()
	})
	return s.err
}

// supervise runs a device until ctx ends. Failed streams are reopened with
// backoff; a breaker parks a device that keeps failing.
func (c *Capturer) supervise(ctx context.Context, name, source string, open openFunc) {
	breaker := resilience.New(name, c.opts.Breaker)
	if c.opts.OnStateChange != nil {
		breaker.WithHook(c.opts.OnStateChange)
	}
	dc := &deviceCapture{breaker: breaker, source: source}

	c.mu.Lock()
	c.active[name] = dc
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		log := slog.With("device", name, "source", source)
		log.Info("started audio capture")

		for ctx.Err() == nil {
			err := resilience.Retry(ctx, c.opts.Retry, func() error {
				if err := breaker.Allow(); err != nil {
					return apperrors.Wrap(err, apperrors.CodeUnavailable, "device parked")
				}
				err := c.run(ctx, name, source, dc, open)
				if err != nil {
					breaker.Failure()
				}
				return err
			})
			if err == nil || ctx.Err() != nil {
				break
			}
			log.Warn("audio capture failing, backing off", "error", err, "wait", breaker.ResetTimeout())
			select {
			case <-ctx.Done():
			case <-time.After(breaker.ResetTimeout()):
			}
		}
		log.Info("stopped audio capture")
	}()
}

// run reads one stream until it fails or ctx ends. A nil return means ctx
// ended.
func (c *Capturer) run(ctx context.Context, name, source string, dc *deviceCapture, open openFunc) error {
	buf := make([]float32, c.opts.FramesPerBuffer)
	stream, err := open(buf)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeAudioDeviceFailed, "open stream").WithMetadata("device", name)
	}
	dc.set(stream)
	defer dc.close()

	healthy := false
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := stream.Read(); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return apperrors.Wrap(err, apperrors.CodeAudioDeviceFailed, "read stream").WithMetadata("device", name)
		}
		if !healthy {
			healthy = true
			dc.breaker.Success()
		}

		chunk := Chunk{
			Data:      append([]float32(nil), buf...),
			DeviceID:  name,
			Source:    source,
			Timestamp: time.Now().UnixNano(),
		}

		select {
		case c.outCh <- chunk:
		default:
			slog.Debug("audio buffer full, dropping chunk", "device", name)
		}
	}
}

func (d *deviceCapture) set(s inputStream) {
	d.mu.Lock()
	d.stream = s
	d.mu.Unlock()
}

func (d *deviceCapture) close() {
	d.mu.Lock()
	s := d.stream
	d.stream = nil
	d.mu.Unlock()
	if s != nil {
		_ = s.Close()
	}
}

// Devices reports supervised devices and their breaker states.
func (c *Capturer) Devices() []DeviceStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]DeviceStatus, 0, len(c.active))
	for name, dc := range c.active {
		dc.mu.Lock()
		open := dc.stream != nil
		dc.mu.Unlock()
		out = append(out, DeviceStatus{
			Name:     name,
			Source:   dc.source,
			Open:     open,
			Breaker:  dc.breaker.State().String(),
			Failures: dc.breaker.Failures(),
		})
	}
	return out
}

// Stop stops all audio capture and waits for device goroutines.
func (c *Capturer) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	devices := make([]*deviceCapture, 0, len(c.active))
	for _, dc := range c.active {
		devices = append(devices, dc)
	}
	c.active = make(map[string]*deviceCapture)
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	// Closing unblocks pending reads.
	for _, dc := range devices {
		dc.close()
	}
	c.wg.Wait()
}

// Close stops capture and releases portaudio.
func (c *Capturer) Close() error {
	c.Stop()
	return portaudio.Terminate()
}

func (c *Capturer) classifyDevice(name string) string {
	systemKeywords := []string{"blackhole", "vb-cable", "loopback", "monitor", "soundflower"}
	for _, kw := range systemKeywords {
		if containsIgnoreCase(name, kw) {
			return SourceSystem
		}
	}

	micKeywords := []string{"microphone", "input", "mic", "built-in"}
	for _, kw := range micKeywords {
		if containsIgnoreCase(name, kw) {
			return SourceUser
		}
	}

	return ""
}

func (c *Capturer) isExcluded(name string) bool {
	for _, ex := range c.opts.ExcludedDevices {
		if ex != "" && containsIgnoreCase(name, ex) {
			return true
		}
	}
	return false
}

func (c *Capturer) preferDevice(name, current string) bool {
	preferred := []string{"macbook", "built-in"}
	for _, p := range preferred {
		if containsIgnoreCase(name, p) && !containsIgnoreCase(current, p) {
			return true
		}
	}
	return false
}

const asciiCaseOffset = 'a' - 'A'

func containsIgnoreCase(s, substr string) bool {
	if len(substr) > len(s) {
		return false
	}
	for i := 0; i <= len(s)-len(substr); i++ {
		match := true
		for j := 0; j < len(substr); j++ {
			c1, c2 := s[i+j], substr[j]
			if c1 >= 'A' && c1 <= 'Z' {
				c1 += asciiCaseOffset
			}
			if c2 >= 'A' && c2 <= 'Z' {
				c2 += asciiCaseOffset
			}
			if c1 != c2 {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
