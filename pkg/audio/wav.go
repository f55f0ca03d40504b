package audio

import (
	"bytes"
	"encoding/binary"
)

// WrapWAV produces a valid RIFF/WAVE container around raw PCM samples.
// width is bytes per sample (2 for 16-bit PCM); channels is sample
// interleaving count.
func WrapWAV(pcm []byte, sampleRate, width, channels int) []byte {
	byteRate := sampleRate * channels * width
	blockAlign := channels * width

	buf := new(bytes.Buffer)
	buf.Grow(44 + len(pcm))

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM format 1
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(width*8))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// NewWavBuffer keeps the teacher's original signature (16-bit mono) as a
// thin wrapper over WrapWAV. The STT adapters do not call it; they receive
// WAV already framed by PrepareForSTT.
func NewWavBuffer(pcm []byte, sampleRate int) []byte {
	return WrapWAV(pcm, sampleRate, 2, 1)
}
