package audio

import (
	"bytes"
	"testing"
)

func pcmBytes(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}

func TestDecodeMuLawEmpty(t *testing.T) {
	if got := DecodeMuLaw(nil); got != nil {
		t.Errorf("Expected nil output for empty input, got %v", got)
	}
	if got := DecodeMuLaw([]byte{}); got != nil {
		t.Errorf("Expected nil output for empty slice, got %v", got)
	}
}

func TestDecodeMuLawDeterministic(t *testing.T) {
	input := []byte{0x00, 0x7F, 0x80, 0xFF, 0x55}

	first := DecodeMuLaw(input)
	second := DecodeMuLaw(input)

	if !bytes.Equal(first, second) {
		t.Error("Decoding must be deterministic for identical input")
	}
	if len(first) != len(input)*2 {
		t.Errorf("Expected %d PCM bytes, got %d", len(input)*2, len(first))
	}
}

func TestMuLawSilenceByte(t *testing.T) {
	// 0xFF is digital silence in mu-law, decoding to zero.
	pcm := DecodeMuLaw([]byte{0xFF})
	if pcm[0] != 0 || pcm[1] != 0 {
		t.Errorf("Expected zero sample for 0xFF, got [%d %d]", pcm[0], pcm[1])
	}

	if got := EncodeMuLaw(pcmBytes(0)); got[0] != 0xFF {
		t.Errorf("Expected 0xFF for zero sample, got 0x%02X", got[0])
	}
}

func TestEncodeMuLawOddInputTruncated(t *testing.T) {
	input := append(pcmBytes(1000, -1000), 0x7F)
	if got := EncodeMuLaw(input); len(got) != 2 {
		t.Errorf("Expected 2 mu-law bytes after truncation, got %d", len(got))
	}
}

func TestMuLawRoundTripBoundedError(t *testing.T) {
	values := []int16{0, 1, -1, 100, -100, 1000, -1000, 8000, -8000, 32000, -32000, 32767, -32768}

	for _, v := range values {
		encoded := EncodeMuLaw(pcmBytes(v))
		decoded := DecodeMuLaw(encoded)

		got := int16(uint16(decoded[0]) | uint16(decoded[1])<<8)
		diff := int32(v) - int32(got)
		if diff < 0 {
			diff = -diff
		}

		// mu-law quantization error grows with magnitude; the worst step at
		// full scale is under 1024, plus clipping at the protocol maximum.
		limit := int32(1024)
		if v > muLawClip || v < -muLawClip {
			limit += int32(32768 - muLawClip)
		}
		if diff > limit {
			t.Errorf("Round trip of %d yielded %d (error %d > %d)", v, got, diff, limit)
		}
	}
}

func TestEncodeMuLawClipsMagnitude(t *testing.T) {
	clipped := EncodeMuLaw(pcmBytes(32767))
	atClip := EncodeMuLaw(pcmBytes(muLawClip))
	if clipped[0] != atClip[0] {
		t.Errorf("Expected sample above clip to encode as clip value: 0x%02X vs 0x%02X", clipped[0], atClip[0])
	}
}

func TestResampleIdentityWhenRatesEqual(t *testing.T) {
	input := pcmBytes(1, 2, 3, 4, 5)
	if got := Resample(input, 8000, 8000); !bytes.Equal(got, input) {
		t.Error("Resample with equal rates must be the identity")
	}
}

func TestResampleUpsampleDoublesLength(t *testing.T) {
	input := pcmBytes(0, 1000, 2000, 3000)
	got := Resample(input, 8000, 16000)
	if len(got) != len(input)*2 {
		t.Errorf("Expected %d bytes after upsampling, got %d", len(input)*2, len(got))
	}

	// Endpoints are preserved by linear interpolation.
	first := int16(uint16(got[0]) | uint16(got[1])<<8)
	last := int16(uint16(got[len(got)-2]) | uint16(got[len(got)-1])<<8)
	if first != 0 {
		t.Errorf("Expected first sample 0, got %d", first)
	}
	if last != 3000 {
		t.Errorf("Expected last sample 3000, got %d", last)
	}
}

func TestResampleDownsampleHalvesLength(t *testing.T) {
	input := pcmBytes(0, 100, 200, 300, 400, 500, 600, 700)
	got := Resample(input, 16000, 8000)
	if len(got) != len(input)/2 {
		t.Errorf("Expected %d bytes after downsampling, got %d", len(input)/2, len(got))
	}
}

func TestResampleInvalidRateReturnsInput(t *testing.T) {
	input := pcmBytes(1, 2, 3)
	if got := Resample(input, 0, 8000); !bytes.Equal(got, input) {
		t.Error("Invalid source rate must return input untouched")
	}
}

func TestResampleOddInputTruncated(t *testing.T) {
	input := append(pcmBytes(100, 200), 0x01)
	got := Resample(input, 8000, 16000)
	if len(got)%2 != 0 {
		t.Errorf("Expected even output length, got %d", len(got))
	}
}
