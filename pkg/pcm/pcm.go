// Package pcm implements the sample codec used on both edges of the voicewire
// audio pipeline: conversion between normalized floating-point samples in
// [-1.0, 1.0] and 16-bit signed little-endian PCM, the base64 text framing
// applied to PCM bytes on the wire, and the audio/pcm MIME descriptor that
// tags every transmitted chunk with its sample rate.
//
// All functions are pure and safe for concurrent use. Quantization follows
// the scale-by-32768, truncate-toward-zero, clamp-to-int16 convention, so a
// full round trip loses at most one quantization step (1/32768) per sample.
package pcm

import (
	"encoding/base64"
	"fmt"
	"mime"
	"strconv"
	"time"
)

// Encode quantizes normalized samples to 16-bit signed little-endian PCM.
// Each sample is scaled by 32768, truncated toward zero, and clamped to
// [-32768, 32767]. Values at or beyond ±1.0 clamp deterministically.
func Encode(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float64(s) * 32768
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		n := int16(v) // conversion truncates toward zero
		out[i*2] = byte(n)
		out[i*2+1] = byte(n >> 8)
	}
	return out
}

// Decode reinterprets data as interleaved little-endian 16-bit signed PCM and
// normalizes it back to floating point by dividing each sample by 32768. The
// result holds one slice per channel, each of length len(data)/2/channels.
//
// An odd byte length, or a sample count that does not divide evenly across
// channels, is a contract violation by the producer and returns an error.
func Decode(data []byte, channels int) ([][]float32, error) {
	if channels < 1 {
		return nil, fmt.Errorf("pcm: decode: channel count %d out of range", channels)
	}
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("pcm: decode: odd byte length %d", len(data))
	}
	total := len(data) / 2
	if total%channels != 0 {
		return nil, fmt.Errorf("pcm: decode: %d samples do not divide into %d channels", total, channels)
	}
	perChannel := total / channels
	out := make([][]float32, channels)
	for c := range out {
		out[c] = make([]float32, perChannel)
	}
	for i := range total {
		n := int16(data[i*2]) | int16(data[i*2+1])<<8
		out[i%channels][i/channels] = float32(n) / 32768
	}
	return out, nil
}

// TextEncode applies the reversible byte-to-text mapping used for wire
// transmission (standard base64).
func TextEncode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// TextDecode reverses [TextEncode]. It round-trips exactly for all inputs,
// including the empty byte sequence.
func TextDecode(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("pcm: text decode: %w", err)
	}
	return data, nil
}

// MimeType returns the MIME descriptor for raw PCM at the given sample rate,
// e.g. "audio/pcm;rate=16000".
func MimeType(rate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}

// ParseMimeType extracts the sample rate from an audio/pcm MIME descriptor.
// Parameter order and whitespace are tolerated; any media type other than
// audio/pcm, or a missing or non-positive rate parameter, is an error.
func ParseMimeType(s string) (int, error) {
	mediaType, params, err := mime.ParseMediaType(s)
	if err != nil {
		return 0, fmt.Errorf("pcm: parse mime type %q: %w", s, err)
	}
	if mediaType != "audio/pcm" {
		return 0, fmt.Errorf("pcm: unexpected media type %q", mediaType)
	}
	raw, ok := params["rate"]
	if !ok {
		return 0, fmt.Errorf("pcm: mime type %q missing rate parameter", s)
	}
	rate, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("pcm: rate parameter %q: %w", raw, err)
	}
	if rate <= 0 {
		return 0, fmt.Errorf("pcm: rate parameter %d out of range", rate)
	}
	return rate, nil
}

// Duration returns the rendering duration of sampleCount samples at the given
// rate. Non-positive inputs yield zero.
func Duration(sampleCount, rate int) time.Duration {
	if sampleCount <= 0 || rate <= 0 {
		return 0
	}
	return time.Duration(sampleCount) * time.Second / time.Duration(rate)
}
