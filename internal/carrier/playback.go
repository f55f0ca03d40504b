package carrier

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
)

// writeJSONFrame marshals v and writes it as a single text message, the
// wire shape every outbound carrier frame (media, mark) shares.
func writeJSONFrame(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// frameDuration is the carrier's native frame period: one 20ms chunk of
// 8kHz mulaw is 160 bytes (160 samples, 1 byte/sample).
const frameDuration = 20 * time.Millisecond

const mulawBytesPerFrame = 160 // 8000 Hz * 0.020 s * 1 byte/sample

// playFrames resamples and mulaw-encodes pcm24k (the TTS adapters'
// native 24kHz output) once, then paces it onto the carrier as a
// sequence of outbound media frames, one per frameDuration, using a rate
// limiter so playback never bursts past what the carrier's jitter buffer
// expects. It returns the number of mulaw bytes written (1 byte == 125
// microseconds at 8kHz); the handler measures actual playback duration
// by wall clock instead.
func playFrames(ctx context.Context, conn *websocket.Conn, streamSID string, pcm24k []byte) (int, error) {
	mulawB64 := audio.PrepareForCarrier(pcm24k)
	mulaw, err := audio.DecodeCarrierFrame(mulawB64)
	if err != nil {
		return 0, err
	}

	limiter := rate.NewLimiter(rate.Every(frameDuration), 1)

	written := 0
	for offset := 0; offset < len(mulaw); offset += mulawBytesPerFrame {
		if err := limiter.Wait(ctx); err != nil {
			return written, err
		}
		end := offset + mulawBytesPerFrame
		if end > len(mulaw) {
			end = len(mulaw)
		}
		chunk := mulaw[offset:end]

		if err := writeMediaChunk(ctx, conn, streamSID, chunk); err != nil {
			return written, err
		}
		written += len(chunk)
	}
	return written, nil
}

func writeMediaChunk(ctx context.Context, conn *websocket.Conn, streamSID string, mulawChunk []byte) error {
	frame := outboundMediaFrame{
		Event:     "media",
		StreamSID: streamSID,
		Media:     outboundMediaBody{Payload: base64.StdEncoding.EncodeToString(mulawChunk)},
	}
	return writeJSONFrame(ctx, conn, frame)
}

func writeMarkFrame(ctx context.Context, conn *websocket.Conn, streamSID, name string) error {
	frame := outboundMarkFrame{
		Event:     "mark",
		StreamSID: streamSID,
		Mark:      outboundMarkBody{Name: name},
	}
	return writeJSONFrame(ctx, conn, frame)
}
