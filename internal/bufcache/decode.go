/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package bufcache

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/circa83/enso-audio/internal/enginerr"
)

// WAVDecoder decodes WAV-encoded bytes into interleaved S16LE PCM using
// the go-audio/wav decode loop (PCMBuffer in fixed-size chunks) rather
// than shelling out to ffmpeg: an embeddable engine should not depend
// on an external ffmpeg binary being present on PATH.
type WAVDecoder struct {
	ChunkFrames int
}

// NewWAVDecoder constructs a WAVDecoder with a sane chunk size.
func NewWAVDecoder() *WAVDecoder {
	return &WAVDecoder{ChunkFrames: 4096}
}

func (d *WAVDecoder) Decode(raw []byte) ([]byte, DecodedMeta, error) {
	decoder := wav.NewDecoder(bytes.NewReader(raw))
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, DecodedMeta{}, enginerr.New(enginerr.Decode, "bufcache.WAVDecoder.Decode", errors.New("not a valid WAV file"))
	}

	channels := int(decoder.NumChans)
	sampleRate := int(decoder.SampleRate)
	if channels == 0 {
		channels = 1
	}

	chunkFrames := d.ChunkFrames
	if chunkFrames <= 0 {
		chunkFrames = 4096
	}
	buf := &audio.IntBuffer{
		Data:   make([]int, chunkFrames*channels),
		Format: &audio.Format{SampleRate: sampleRate, NumChannels: channels},
	}

	out := make([]byte, 0, len(raw))
	sampleBytes := make([]byte, 2)
	var totalSamples int64

	for {
		n, err := decoder.PCMBuffer(buf)
		if err != nil {
			return nil, DecodedMeta{}, enginerr.New(enginerr.Decode, "bufcache.WAVDecoder.Decode", err)
		}
		if n == 0 {
			break
		}
		for _, s := range buf.Data[:n] {
			v := clampS16(s, int(decoder.BitDepth))
			binary.LittleEndian.PutUint16(sampleBytes, uint16(v))
			out = append(out, sampleBytes...)
		}
		totalSamples += int64(n)
	}

	duration := 0.0
	if sampleRate > 0 && channels > 0 {
		duration = float64(totalSamples) / float64(channels) / float64(sampleRate)
	}

	return out, DecodedMeta{SampleRate: sampleRate, Channels: channels, DurationSeconds: duration}, nil
}

// clampS16 rescales a decoded sample of bitDepth bits to a signed
// 16-bit range, matching the divisor table the rest of this codebase's
// PCM-handling code uses for 16/24/32-bit sources.
func clampS16(sample int, bitDepth int) int16 {
	switch bitDepth {
	case 16:
		if sample > 32767 {
			return 32767
		}
		if sample < -32768 {
			return -32768
		}
		return int16(sample)
	case 24:
		return int16(sample >> 8)
	case 32:
		return int16(sample >> 16)
	default:
		if sample > 32767 {
			return 32767
		}
		if sample < -32768 {
			return -32768
		}
		return int16(sample)
	}
}
