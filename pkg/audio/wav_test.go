package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestNewWavBuffer(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	sampleRate := 44100
	wav := NewWavBuffer(pcm, sampleRate)

	if !bytes.HasPrefix(wav, []byte("RIFF")) {
		t.Errorf("Expected RIFF prefix")
	}

	if !bytes.Contains(wav, []byte("WAVE")) {
		t.Errorf("Expected WAVE format identifier")
	}

	expectedLen := 44 + len(pcm)
	if len(wav) != expectedLen {
		t.Errorf("Expected length %d, got %d", expectedLen, len(wav))
	}
}

func TestWrapWAVStereo(t *testing.T) {
	pcm := make([]byte, 16)
	wav := WrapWAV(pcm, 8000, 2, 2)

	if !bytes.HasPrefix(wav, []byte("RIFF")) {
		t.Errorf("Expected RIFF prefix")
	}
	if len(wav) != 44+len(pcm) {
		t.Errorf("Expected length %d, got %d", 44+len(pcm), len(wav))
	}
	// byte_rate = hz * channels * width
	byteRate := binary.LittleEndian.Uint32(wav[28:32])
	if byteRate != 8000*2*2 {
		t.Errorf("Expected byte rate %d, got %d", 8000*2*2, byteRate)
	}
	blockAlign := binary.LittleEndian.Uint16(wav[32:34])
	if blockAlign != 4 {
		t.Errorf("Expected block align 4, got %d", blockAlign)
	}
}
