// Package audio provides the PCM frame type and format-conversion helpers
// shared by the room transport, the VAD gate, and the provider adapters.
//
// The review room delivers the candidate's microphone at 48 kHz stereo, the
// VAD gate and ASR adapters want 16 kHz mono, and synthesized question
// prompts come back from TTS at 16–44.1 kHz mono and must be upmixed before
// playback. [FormatConverter] and [ConvertStream] bridge those formats with
// linear-interpolation resampling.
package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// All PCM in the pipeline is little-endian int16.
const bytesPerSample = 2

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// FormatConverter converts AudioFrames to a target format. It logs a warning
// on the first format mismatch and validates PCM data alignment.
// Create one per stream; not designed for shared use across goroutines.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert converts a frame to the target format. If the source format already
// matches the target, the frame is returned unchanged (zero allocation).
// Conversion order: resample first, then channel convert.
func (c *FormatConverter) Convert(frame AudioFrame) AudioFrame {
	// An odd byte count cannot be int16 samples; the frame was truncated
	// somewhere upstream. Drop it rather than feed garbage to the ASR.
	if len(frame.Data)%bytesPerSample != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio format converter: odd byte count in PCM data, dropping frame",
				"bytes", len(frame.Data),
				"sampleRate", frame.SampleRate,
				"channels", frame.Channels,
			)
		})
		return AudioFrame{
			Data:       nil,
			SampleRate: c.Target.SampleRate,
			Channels:   c.Target.Channels,
			Timestamp:  frame.Timestamp,
		}
	}

	// Fast path: source matches target.
	if frame.SampleRate == c.Target.SampleRate && frame.Channels == c.Target.Channels {
		return frame
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", formatString(frame.SampleRate, frame.Channels),
			"to", formatString(c.Target.SampleRate, c.Target.Channels),
		)
	})

	pcm := frame.Data
	rate := frame.SampleRate
	channels := frame.Channels

	// Resample first so stereo input is not resampled twice when the target
	// is mono.
	if rate != c.Target.SampleRate {
		if channels == 1 {
			pcm = ResampleMono16(pcm, rate, c.Target.SampleRate)
		} else {
			pcm = ResampleStereo16(pcm, rate, c.Target.SampleRate)
		}
		rate = c.Target.SampleRate
	}

	if channels != c.Target.Channels {
		switch {
		case channels == 1 && c.Target.Channels == 2:
			pcm = MonoToStereo(pcm)
		case channels == 2 && c.Target.Channels == 1:
			pcm = StereoToMono(pcm)
		}
		channels = c.Target.Channels
	}

	return AudioFrame{
		Data:       pcm,
		SampleRate: rate,
		Channels:   channels,
		Timestamp:  frame.Timestamp,
	}
}

// ConvertStream wraps an input channel with a conversion goroutine. It closes
// the returned channel when in closes. Uses cap(in) for the output channel
// buffer. Frames with empty data (e.g. from odd byte count) are dropped.
func ConvertStream(in <-chan AudioFrame, target Format) <-chan AudioFrame {
	out := make(chan AudioFrame, cap(in))
	go func() {
		defer close(out)
		conv := FormatConverter{Target: target}
		for frame := range in {
			converted := conv.Convert(frame)
			if len(converted.Data) == 0 {
				continue
			}
			out <- converted
		}
	}()
	return out
}

// sampleAt decodes the int16 sample at index idx.
func sampleAt(pcm []byte, idx int) int16 {
	off := idx * bytesPerSample
	return int16(pcm[off]) | int16(pcm[off+1])<<8
}

// putSample encodes s at sample index idx.
func putSample(pcm []byte, idx int, s int16) {
	off := idx * bytesPerSample
	pcm[off] = byte(s)
	pcm[off+1] = byte(s >> 8)
}

// lerp interpolates between two adjacent samples; frac is the position
// within [s0, s1).
func lerp(s0, s1 int16, frac float64) int16 {
	return int16(float64(s0)*(1-frac) + float64(s1)*frac)
}

// MonoToStereo duplicates each mono sample into a stereo L+R pair. Used when
// a mono TTS prompt is played into the stereo room track.
func MonoToStereo(pcm []byte) []byte {
	samples := len(pcm) / bytesPerSample
	out := make([]byte, samples*2*bytesPerSample)
	for i := 0; i < samples; i++ {
		s := sampleAt(pcm, i)
		putSample(out, i*2, s)
		putSample(out, i*2+1, s)
	}
	return out
}

// StereoToMono averages each L+R pair into one mono sample, in int32 to
// avoid overflow, clamped to the int16 range. Used to fold the room's stereo
// capture down for VAD and ASR.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / (2 * bytesPerSample)
	out := make([]byte, frames*bytesPerSample)
	for i := 0; i < frames; i++ {
		avg := (int32(sampleAt(pcm, i*2)) + int32(sampleAt(pcm, i*2+1))) / 2
		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}
		putSample(out, i, int16(avg))
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. Returns the input unchanged when the rates already
// match or either rate is non-positive.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < bytesPerSample {
		return pcm
	}
	srcSamples := len(pcm) / bytesPerSample
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*bytesPerSample)
	ratio := float64(srcRate) / float64(dstRate)

	for i := 0; i < dstSamples; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := sampleAt(pcm, srcIdx)
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = sampleAt(pcm, srcIdx+1)
		}
		putSample(out, i, lerp(s0, s1, frac))
	}
	return out
}

// ResampleStereo16 resamples 16-bit stereo PCM (L+R interleaved) from srcRate
// to dstRate, interpolating each channel independently. Returns the input
// unchanged when the rates already match or either rate is non-positive.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2*bytesPerSample {
		return pcm
	}
	srcFrames := len(pcm) / (2 * bytesPerSample)
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*2*bytesPerSample)
	ratio := float64(srcRate) / float64(dstRate)

	for i := 0; i < dstFrames; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		l0 := sampleAt(pcm, srcIdx*2)
		r0 := sampleAt(pcm, srcIdx*2+1)
		l1, r1 := l0, r0
		if srcIdx+1 < srcFrames {
			l1 = sampleAt(pcm, (srcIdx+1)*2)
			r1 = sampleAt(pcm, (srcIdx+1)*2+1)
		}
		putSample(out, i*2, lerp(l0, l1, frac))
		putSample(out, i*2+1, lerp(r0, r1, frac))
	}
	return out
}

// formatString renders a format for log lines, e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
