// micbridge is a development harness: it captures the local microphone
// with malgo, frames it exactly the way a carrier would over the media
// WebSocket protocol (internal/carrier/protocol.go), and plays back
// whatever the gateway streams in reply. It lets someone talk to a
// running gateway instance without a real carrier trunk.
package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os/signal"
	"sync"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gen2brain/malgo"
	"github.com/google/uuid"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
)

const deviceSampleRate = 8000 // matches the carrier's native mulaw rate; no resampling needed on capture

type startPayload struct {
	StreamSID    string            `json:"streamSid"`
	CustomParams map[string]string `json:"customParameters"`
}

type mediaFrame struct {
	Event     string    `json:"event"`
	StreamSID string    `json:"streamSid"`
	Media     mediaBody `json:"media"`
}

type mediaBody struct {
	Payload string `json:"payload"`
}

type outboundFrame struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid"`
	Media     *mediaBody    `json:"media,omitempty"`
	Start     *startPayload `json:"start,omitempty"`
}

func main() {
	gatewayURL := flag.String("gateway", "ws://localhost:8080/carrier/media", "carrier media WebSocket URL")
	caller := flag.String("caller", "mic_bridge_user", "caller id sent as a custom parameter")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	u, err := url.Parse(*gatewayURL)
	if err != nil {
		log.Fatalf("Error: invalid gateway URL: %v", err)
	}

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		log.Fatalf("Error: failed to connect to gateway at %s: %v", u.String(), err)
	}
	defer conn.CloseNow()

	streamSID := uuid.NewString()
	startFrame := outboundFrame{
		Event:     "start",
		StreamSID: streamSID,
		Start: &startPayload{
			StreamSID:    streamSID,
			CustomParams: map[string]string{"caller": *caller},
		},
	}
	if err := wsjson.Write(ctx, conn, startFrame); err != nil {
		log.Fatalf("Error: failed to send start frame: %v", err)
	}
	fmt.Printf("Connected to %s as stream %s. Speak into the microphone, Ctrl+C to hang up.\n", u.String(), streamSID)

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer mctx.Uninit()

	var playbackMu sync.Mutex
	var playbackPCM []byte

	onSamples := func(pOutput, pInput []byte, frameCount uint32) {
		if pInput != nil {
			mulaw := audio.LinearToMulaw(pInput)
			frame := mediaFrame{
				Event:     "media",
				StreamSID: streamSID,
				Media:     mediaBody{Payload: base64.StdEncoding.EncodeToString(mulaw)},
			}
			_ = wsjson.Write(ctx, conn, frame)
		}
		if pOutput != nil {
			playbackMu.Lock()
			n := copy(pOutput, playbackPCM)
			playbackPCM = playbackPCM[n:]
			for i := n; i < len(pOutput); i++ {
				pOutput[i] = 0
			}
			playbackMu.Unlock()
		}
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = deviceSampleRate
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onSamples,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		log.Fatal(err)
	}

	go func() {
		for {
			var mf mediaFrame
			if err := wsjson.Read(ctx, conn, &mf); err != nil {
				return
			}
			if mf.Event != "media" || mf.Media.Payload == "" {
				continue
			}
			mulaw, err := audio.DecodeCarrierFrame(mf.Media.Payload)
			if err != nil {
				continue
			}
			pcm := audio.MulawToLinear(mulaw)
			playbackMu.Lock()
			playbackPCM = append(playbackPCM, pcm...)
			playbackMu.Unlock()
		}
	}()

	<-ctx.Done()

	stopFrame := outboundFrame{Event: "stop", StreamSID: streamSID}
	_ = wsjson.Write(context.Background(), conn, stopFrame)
	fmt.Println("\nHanging up...")
}
