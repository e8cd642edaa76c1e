package audioio

import "math"

// Resample converts mono audio from one sample rate to another using linear interpolation.
// This is a simple resampler suitable for speech audio.
// For higher quality, consider using a polyphase filter.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 {
		return samples
	}

	if len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	newLen := int(float64(len(samples)) / ratio)

	if newLen == 0 {
		return []float32{}
	}

	result := make([]float32, newLen)

	for i := 0; i < newLen; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		if srcIdx >= len(samples)-1 {
			result[i] = samples[len(samples)-1]
		} else {
			// Linear interpolation
			s1 := samples[srcIdx]
			s2 := samples[srcIdx+1]
			result[i] = s1 + frac*(s2-s1)
		}
	}

	return result
}

// ResampleFrame converts a frame to the target rate, channel by channel.
func ResampleFrame(frame AudioFrame, toRate int) AudioFrame {
	if frame.SampleRate == toRate || frame.Channels <= 0 {
		return frame
	}
	if frame.Channels == 1 {
		return AudioFrame{
			Samples:    Resample(frame.Samples, frame.SampleRate, toRate),
			SampleRate: toRate,
			Channels:   1,
		}
	}

	n := frame.Len()
	var out []float32
	for ch := 0; ch < frame.Channels; ch++ {
		mono := make([]float32, n)
		for i := 0; i < n; i++ {
			mono[i] = frame.Samples[i*frame.Channels+ch]
		}
		res := Resample(mono, frame.SampleRate, toRate)
		if out == nil {
			out = make([]float32, len(res)*frame.Channels)
		}
		for i, s := range res {
			out[i*frame.Channels+ch] = s
		}
	}
	return AudioFrame{Samples: out, SampleRate: toRate, Channels: frame.Channels}
}

// ConvertChannels remixes a frame to the requested channel count.
// Mono is duplicated across outputs; anything else is averaged down to mono first.
func ConvertChannels(frame AudioFrame, channels int) AudioFrame {
	if frame.Channels == channels || channels <= 0 || frame.Channels <= 0 {
		return frame
	}

	mono := frame.Samples
	if frame.Channels != 1 {
		mono = DownmixToMono(frame.Samples, frame.Channels)
	}
	if channels == 1 {
		return AudioFrame{Samples: mono, SampleRate: frame.SampleRate, Channels: 1}
	}

	out := make([]float32, len(mono)*channels)
	for i, s := range mono {
		for ch := 0; ch < channels; ch++ {
			out[i*channels+ch] = s
		}
	}
	return AudioFrame{Samples: out, SampleRate: frame.SampleRate, Channels: channels}
}

// DownmixToMono averages interleaved samples to mono.
func DownmixToMono(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	mono := make([]float32, len(samples)/channels)
	for i := range mono {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += samples[i*channels+ch]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// CalculateRMS calculates the root mean square of samples.
// Returns a value between 0.0 and 1.0.
func CalculateRMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}

	return math.Sqrt(sum / float64(len(samples)))
}
