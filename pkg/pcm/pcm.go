// Package pcm converts between float audio samples and the 16-bit
// little-endian base64 wire format used by the live session transport.
package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/teslashibe/go-livetalk/pkg/audioio"
)

// ErrMalformedAudio is returned when a payload cannot be decoded into samples.
var ErrMalformedAudio = errors.New("pcm: malformed audio")

// Standard wire rates.
const (
	InputSampleRate  = 16000
	OutputSampleRate = 24000
)

// Chunk is one encoded unit of audio on the wire.
type Chunk struct {
	Data       string `json:"data"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// MIMEType returns the MIME type the remote expects for this chunk.
func (c Chunk) MIMEType() string {
	return "audio/pcm;rate=" + strconv.Itoa(c.SampleRate)
}

// Encode clamps samples to [-1, 1], converts them to 16-bit signed
// little-endian PCM and returns the base64 text.
func Encode(samples []float32) string {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(floatToInt16(s)))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// EncodeFrame encodes a frame and carries its format on the chunk.
func EncodeFrame(frame audioio.AudioFrame) Chunk {
	return Chunk{
		Data:       Encode(frame.Samples),
		SampleRate: frame.SampleRate,
		Channels:   frame.Channels,
	}
}

// EncodeRaw base64-encodes bytes that are already 16-bit PCM.
func EncodeRaw(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

// Decode reverses the text layer only; it does not interpret samples.
func Decode(data string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAudio, err)
	}
	return raw, nil
}

// DecodeAudioData interprets raw as interleaved 16-bit signed little-endian
// samples and returns a frame tagged with sampleRate and channels.
func DecodeAudioData(raw []byte, sampleRate, channels int) (audioio.AudioFrame, error) {
	if sampleRate <= 0 || channels <= 0 {
		return audioio.AudioFrame{}, fmt.Errorf("%w: invalid format %d Hz x %d ch", ErrMalformedAudio, sampleRate, channels)
	}
	if len(raw)%(2*channels) != 0 {
		return audioio.AudioFrame{}, fmt.Errorf("%w: %d bytes is not a whole number of %d-channel frames",
			ErrMalformedAudio, len(raw), channels)
	}

	samples := make([]float32, len(raw)/2)
	for i := range samples {
		samples[i] = int16ToFloat(int16(binary.LittleEndian.Uint16(raw[i*2:])))
	}

	return audioio.AudioFrame{
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   channels,
	}, nil
}

// DecodeChunk runs both decode layers on a chunk.
func DecodeChunk(c Chunk) (audioio.AudioFrame, error) {
	raw, err := Decode(c.Data)
	if err != nil {
		return audioio.AudioFrame{}, err
	}
	return DecodeAudioData(raw, c.SampleRate, c.Channels)
}

// ParseMIMERate extracts the rate parameter from "audio/pcm;rate=24000".
// It returns fallback when the type carries no rate.
func ParseMIMERate(mimeType string, fallback int) int {
	for _, part := range strings.Split(mimeType, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || !strings.EqualFold(k, "rate") {
			continue
		}
		if rate, err := strconv.Atoi(v); err == nil && rate > 0 {
			return rate
		}
	}
	return fallback
}

func floatToInt16(s float32) int16 {
	switch {
	case s > 1 || math.IsInf(float64(s), 1):
		s = 1
	case s < -1 || math.IsInf(float64(s), -1):
		s = -1
	case math.IsNaN(float64(s)):
		s = 0
	}
	if s < 0 {
		return int16(math.Round(float64(s) * 32768))
	}
	return int16(math.Round(float64(s) * 32767))
}

func int16ToFloat(v int16) float32 {
	if v < 0 {
		return float32(v) / 32768
	}
	return float32(v) / 32767
}
