/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audiohost

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
)

const (
	deviceSampleRate = 44100
	deviceChannels   = 2
)

// RealBackend drives an actual playback device via malgo. It opens a
// playback device and mixes every connected, started BufferSourceNode
// through its gain chain into the device's output callback, which is
// the concrete realization of the Backend interface.
type RealBackend struct {
	mlCtx  *malgo.AllocatedContext
	device *malgo.Device

	start  time.Time
	nextID int64

	mu      sync.Mutex
	sources map[string]*realSource
	dest    *realDestination
}

// NewRealBackend opens the platform default playback device.
func NewRealBackend() (*RealBackend, error) {
	mlCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return nil, fmt.Errorf("audiohost: init malgo context: %w", err)
	}

	b := &RealBackend{
		mlCtx: mlCtx, start: time.Now(),
		sources: map[string]*realSource{}, dest: &realDestination{},
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = deviceChannels
	deviceConfig.SampleRate = deviceSampleRate
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mlCtx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: b.onSamples,
	})
	if err != nil {
		_ = mlCtx.Uninit()
		return nil, fmt.Errorf("audiohost: init playback device: %w", err)
	}
	b.device = device
	return b, nil
}

func (b *RealBackend) onSamples(outputSamples, _ []byte, frameCount uint32) {
	for i := range outputSamples {
		outputSamples[i] = 0
	}

	b.mu.Lock()
	sources := make([]*realSource, 0, len(b.sources))
	for _, s := range b.sources {
		sources = append(sources, s)
	}
	b.mu.Unlock()

	now := b.CurrentTime()

	for _, s := range sources {
		s.mu.Lock()
		if !s.started {
			s.mu.Unlock()
			continue
		}
		gain, reachable := b.resolveGain(s.dest, now)
		if !reachable || gain <= 0 {
			s.mu.Unlock()
			continue
		}
		s.mixInto(outputSamples, frameCount, deviceSampleRate, deviceChannels, gain)
		s.mu.Unlock()
	}
}

// resolveGain walks the Connect() chain from a source's destination
// down to the master sink, multiplying every realGain's current value
// along the way. Returns reachable=false if the chain is disconnected
// or dangling — a disconnected node is simply silent.
func (b *RealBackend) resolveGain(dest Destination, now float64) (float64, bool) {
	product := 1.0
	for depth := 0; depth < 8; depth++ {
		switch d := dest.(type) {
		case *realDestination:
			return product, true
		case *realGain:
			product *= d.valueAt(now)
			d.mu.Lock()
			dest = d.dest
			d.mu.Unlock()
		default:
			return 0, false
		}
		if dest == nil {
			return 0, false
		}
	}
	return 0, false
}

func (b *RealBackend) nextNodeID(prefix string) string {
	id := atomic.AddInt64(&b.nextID, 1)
	return fmt.Sprintf("%s-%d", prefix, id)
}

// CurrentTime returns wall-clock seconds since the device was opened.
// Real playback latency is not modeled; matching mockGain's clock
// convention keeps automation scheduling identical between backends.
func (b *RealBackend) CurrentTime() float64 { return time.Since(b.start).Seconds() }

func (b *RealBackend) CreateGain() GainNode {
	return &realGain{id: b.nextNodeID("gain"), value: 1.0}
}

func (b *RealBackend) CreateBufferSource(buf []byte, sampleRate, channels int) BufferSourceNode {
	s := &realSource{id: b.nextNodeID("src"), buf: buf, sampleRate: sampleRate, channels: channels}
	b.mu.Lock()
	b.sources[s.id] = s
	b.mu.Unlock()
	return s
}

func (b *RealBackend) Destination() Destination { return b.dest }

func (b *RealBackend) Resume() error  { return b.device.Start() }
func (b *RealBackend) Suspend() error { return b.device.Stop() }

// Close releases the device and malgo context. Not part of the
// Backend trait; called by cmd/audioengine on shutdown.
func (b *RealBackend) Close() {
	b.device.Uninit()
	_ = b.mlCtx.Uninit()
}

type realDestination struct{}

func (*realDestination) ID() string { return "destination" }

type realRamp struct {
	fromValue, toValue float64
	fromTime, toTime   float64
}

type realGain struct {
	mu          sync.Mutex
	id          string
	value       float64
	lastSetTime float64
	ramp        *realRamp
	dest        Destination
}

func (g *realGain) ID() string { return g.id }

func (g *realGain) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

func (g *realGain) SetValueAtTime(value float64, when float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ramp = nil
	g.value = value
	g.lastSetTime = when
}

func (g *realGain) LinearRampToValueAtTime(value float64, when float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ramp = &realRamp{fromValue: g.value, toValue: value, fromTime: g.lastSetTime, toTime: when}
}

func (g *realGain) CancelScheduledValues(when float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ramp = nil
}

func (g *realGain) Connect(dest Destination) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dest = dest
}

func (g *realGain) Disconnect() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dest = nil
}

// valueAt evaluates the gain's automation curve at an arbitrary time,
// pull-style (the mixer calls this once per audio callback), unlike
// MockBackend's push-style Advance/tick driven by test code.
func (g *realGain) valueAt(now float64) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ramp == nil {
		return g.value
	}
	if now >= g.ramp.toTime {
		g.value = g.ramp.toValue
		g.ramp = nil
		return g.value
	}
	span := g.ramp.toTime - g.ramp.fromTime
	if span <= 0 {
		return g.ramp.toValue
	}
	frac := (now - g.ramp.fromTime) / span
	if frac < 0 {
		frac = 0
	}
	return g.ramp.fromValue + (g.ramp.toValue-g.ramp.fromValue)*frac
}

type realSource struct {
	mu         sync.Mutex
	id         string
	buf        []byte // interleaved S16LE at sampleRate/channels
	sampleRate int
	channels   int
	position   float64 // seconds
	started    bool
	dest       Destination
}

func (s *realSource) ID() string { return s.id }

func (s *realSource) Start(when float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
}

func (s *realSource) Stop(when float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
}

func (s *realSource) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

func (s *realSource) SetPosition(p float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.position = p
}

func (s *realSource) Connect(dest Destination) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dest = dest
}

func (s *realSource) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dest = nil
}

// mixInto adds this source's samples, nearest-neighbour resampled to
// the device's rate/channel count and scaled by gain, into outputSamples.
// Caller holds s.mu. Stops itself once the buffer is exhausted.
func (s *realSource) mixInto(outputSamples []byte, frameCount uint32, outRate, outChannels int, gain float64) {
	bytesPerSample := 2 // S16LE
	srcFrames := len(s.buf) / (bytesPerSample * s.channels)
	if srcFrames == 0 || s.sampleRate == 0 {
		s.started = false
		return
	}
	durationSeconds := float64(srcFrames) / float64(s.sampleRate)

	for frame := 0; frame < int(frameCount); frame++ {
		if s.position >= durationSeconds {
			s.started = false
			return
		}
		srcFrameIdx := int(s.position * float64(s.sampleRate))
		if srcFrameIdx >= srcFrames {
			s.started = false
			return
		}
		for ch := 0; ch < outChannels; ch++ {
			srcCh := ch
			if s.channels == 1 {
				srcCh = 0
			} else if srcCh >= s.channels {
				srcCh = s.channels - 1
			}
			off := (srcFrameIdx*s.channels + srcCh) * bytesPerSample
			if off+1 >= len(s.buf) {
				continue
			}
			sample := int16(binary.LittleEndian.Uint16(s.buf[off : off+2]))
			scaled := int32(float64(sample) * gain)

			outOff := (frame*outChannels + ch) * bytesPerSample
			if outOff+1 >= len(outputSamples) {
				continue
			}
			existing := int32(int16(binary.LittleEndian.Uint16(outputSamples[outOff : outOff+2])))
			mixed := existing + scaled
			if mixed > 32767 {
				mixed = 32767
			}
			if mixed < -32768 {
				mixed = -32768
			}
			binary.LittleEndian.PutUint16(outputSamples[outOff:outOff+2], uint16(int16(mixed)))
		}
		s.position += 1.0 / float64(outRate)
	}
}
