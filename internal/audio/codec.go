// Package audio implements the media-path primitives for phone calls:
// G.711 mu-law conversion, linear resampling and the per-call jitter buffer.
package audio

import "math"

// G.711 mu-law constants.
const (
	muLawBias = 0x84
	muLawClip = 32635
	muLawMax  = 0xFF
)

// decodeTable maps every mu-law byte to its 16-bit linear PCM sample. The
// table is computed once at init so decoding is a single lookup per sample.
var decodeTable [256]int16

func init() {
	for i := 0; i < 256; i++ {
		u := ^uint8(i)
		sign := u & 0x80
		exponent := (u >> 4) & 0x07
		mantissa := u & 0x0F

		sample := ((int32(mantissa) << 3) + muLawBias) << exponent
		sample -= muLawBias
		if sign != 0 {
			sample = -sample
		}
		decodeTable[i] = int16(sample)
	}
}

// DecodeMuLaw converts 8-bit mu-law samples to 16-bit little-endian PCM.
// Empty input yields empty output; malformed input cannot occur since every
// byte value is a valid mu-law sample.
func DecodeMuLaw(mulaw []byte) []byte {
	if len(mulaw) == 0 {
		return nil
	}

	pcm := make([]byte, len(mulaw)*2)
	for i, b := range mulaw {
		sample := decodeTable[b]
		pcm[i*2] = byte(sample)
		pcm[i*2+1] = byte(sample >> 8)
	}
	return pcm
}

// EncodeMuLaw converts 16-bit little-endian PCM samples to 8-bit mu-law.
// Input with an odd byte count is truncated by one trailing byte.
func EncodeMuLaw(pcm []byte) []byte {
	if len(pcm) == 0 {
		return nil
	}
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}

	mulaw := make([]byte, len(pcm)/2)
	for i := 0; i < len(pcm); i += 2 {
		sample := int32(int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8))
		mulaw[i/2] = encodeSample(sample)
	}
	return mulaw
}

func encodeSample(sample int32) byte {
	var sign int32
	if sample < 0 {
		sign = 0x80
		sample = -sample
	}
	if sample > muLawClip {
		sample = muLawClip
	}
	sample += muLawBias

	// Locate the most significant set bit to derive the exponent (0-7).
	exponent := int32(7)
	for mask := int32(0x4000); exponent > 0; mask >>= 1 {
		if sample&mask != 0 {
			break
		}
		exponent--
	}

	mantissa := (sample >> (uint(exponent) + 3)) & 0x0F
	ulaw := sign | (exponent << 4) | mantissa

	// mu-law stores the byte bit-inverted.
	return byte(^ulaw) & muLawMax
}

// Resample converts 16-bit PCM between sample rates using linear
// interpolation. It is the identity when the rates match. Odd-length input is
// truncated by one trailing byte. Invalid rates return the input untouched:
// a resampling failure must not silently produce silence.
func Resample(pcm []byte, fromRate, toRate int) []byte {
	if len(pcm) == 0 {
		return nil
	}
	if fromRate == toRate {
		return pcm
	}
	if fromRate <= 0 || toRate <= 0 {
		return pcm
	}
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}

	sampleCount := len(pcm) / 2
	if sampleCount == 0 {
		return pcm
	}

	samples := make([]float64, sampleCount)
	for i := 0; i < sampleCount; i++ {
		samples[i] = float64(int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8))
	}

	ratio := float64(toRate) / float64(fromRate)
	newLength := int(float64(sampleCount) * ratio)
	if newLength <= 0 {
		return pcm
	}

	out := make([]byte, newLength*2)
	for i := 0; i < newLength; i++ {
		var pos float64
		if newLength > 1 {
			pos = float64(i) * float64(sampleCount-1) / float64(newLength-1)
		}

		lo := int(pos)
		hi := lo + 1
		if hi >= sampleCount {
			hi = sampleCount - 1
		}
		frac := pos - float64(lo)

		value := samples[lo]*(1-frac) + samples[hi]*frac
		sample := int16(math.Round(value))
		out[i*2] = byte(sample)
		out[i*2+1] = byte(uint16(sample) >> 8)
	}
	return out
}
