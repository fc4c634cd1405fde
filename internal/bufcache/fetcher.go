/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package bufcache

// FetchMeta carries transport-level hints the decoder may not be able
// to recover on its own (rarely needed; decoders normally determine
// sample rate/channel count from the file header itself).
type FetchMeta struct {
	SampleRate int
	Channels   int
}

// Fetcher retrieves raw (undecoded) bytes for a URL, reporting download
// progress in [0,100]. Implementations: fetcher_http.go (plain HTTP,
// progress from Content-Length) and fetcher_s3.go (S3-compatible object
// storage).
type Fetcher interface {
	Fetch(url string, onProgress func(percent float64)) (raw []byte, meta FetchMeta, err error)
}

// DecodedMeta describes a decoded PCM buffer.
type DecodedMeta struct {
	SampleRate      int
	Channels        int
	DurationSeconds float64
}

// Decoder turns raw encoded bytes into interleaved S16LE PCM.
type Decoder interface {
	Decode(raw []byte) (pcm []byte, meta DecodedMeta, err error)
}
