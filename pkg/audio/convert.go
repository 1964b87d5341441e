// Package audio normalizes caller audio before it enters the voice
// pipeline. Handsets and IVR gateways deliver PCM in whatever format
// their codec produced; the speech providers expect a fixed sample rate
// and channel count, so every clip is converted up front.
package audio

import (
	"encoding/binary"
	"fmt"

	"github.com/mandivoice/mandivoice/pkg/voice"
)

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Telephony is the format the speech providers are tuned for: 16 kHz
// mono, the common denominator of Indian telecom voice channels.
var Telephony = Format{SampleRate: 16000, Channels: 1}

func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Normalize converts a clip to the target format. Clips that already
// match, or that carry no format information at all, are returned
// unchanged. The data must be little-endian int16 PCM.
//
// Channel conversion runs before resampling so the interpolation only
// touches the samples that survive the downmix.
func Normalize(clip voice.AudioClip, target Format) (voice.AudioClip, error) {
	if len(clip.Data)%2 != 0 {
		return voice.AudioClip{}, fmt.Errorf("audio: odd byte count %d, not int16 PCM", len(clip.Data))
	}
	if clip.SampleRate <= 0 || clip.Channels <= 0 {
		return clip, nil
	}
	if clip.Channels > 2 || target.Channels > 2 {
		return voice.AudioClip{}, fmt.Errorf("audio: cannot convert %s to %s", Format{clip.SampleRate, clip.Channels}, target)
	}
	if clip.SampleRate == target.SampleRate && clip.Channels == target.Channels {
		return clip, nil
	}

	pcm := clip.Data
	channels := clip.Channels
	switch {
	case channels == 2 && target.Channels == 1:
		pcm = StereoToMono(pcm)
		channels = 1
	case channels == 1 && target.Channels == 2:
		pcm = MonoToStereo(pcm)
		channels = 2
	}
	pcm = Resample(pcm, channels, clip.SampleRate, target.SampleRate)

	return voice.AudioClip{
		Data:       pcm,
		SampleRate: target.SampleRate,
		Channels:   channels,
	}, nil
}

// StereoToMono averages each interleaved L+R pair into a single mono
// sample. The average runs in int32 and is clamped to the int16 range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(sampleAt(pcm, i*2))
		r := int32(sampleAt(pcm, i*2+1))
		avg := (l + r) / 2
		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}
		putSample(out, i, int16(avg))
	}
	return out
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	samples := len(pcm) / 2
	out := make([]byte, samples*4)
	for i := range samples {
		s := sampleAt(pcm, i)
		putSample(out, i*2, s)
		putSample(out, i*2+1, s)
	}
	return out
}

// Resample converts interleaved int16 PCM from srcRate to dstRate using
// linear interpolation. channels is the interleave width (1 or 2). The
// input is returned unchanged when no resampling is needed.
func Resample(pcm []byte, channels, srcRate, dstRate int) []byte {
	if channels <= 0 || srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return pcm
	}
	frameBytes := channels * 2
	srcFrames := len(pcm) / frameBytes
	if srcFrames < 2 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*frameBytes)
	step := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		for ch := range channels {
			s0 := float64(sampleAt(pcm, idx*channels+ch))
			s1 := float64(sampleAt(pcm, next*channels+ch))
			putSample(out, i*channels+ch, int16(s0*(1-frac)+s1*frac))
		}
	}
	return out
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*2:]))
}

func putSample(pcm []byte, i int, s int16) {
	binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
}
