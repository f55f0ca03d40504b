package carrier

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/lokutor-ai/lokutor-orchestrator/internal/analytics"
	"github.com/lokutor-ai/lokutor-orchestrator/internal/dashboard"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

type fakeSTT struct{ transcript string }

func (f *fakeSTT) Name() string { return "fake-stt" }
func (f *fakeSTT) Transcribe(ctx context.Context, audio []byte, lang orchestrator.Language) (string, error) {
	return f.transcript, nil
}
func (f *fakeSTT) TranscribeDetailed(ctx context.Context, audio []byte, lang orchestrator.Language, prompt string) (orchestrator.STTResult, error) {
	return orchestrator.STTResult{Transcript: f.transcript, Confidence: 0.95}, nil
}

type fakeLLM struct{ reply string }

func (f *fakeLLM) Name() string { return "fake-llm" }
func (f *fakeLLM) Complete(ctx context.Context, messages []orchestrator.Message) (string, error) {
	return f.reply, nil
}
func (f *fakeLLM) CompleteDetailed(ctx context.Context, messages []orchestrator.Message, maxTokens int) (string, orchestrator.LLMUsage, error) {
	return f.reply, orchestrator.LLMUsage{TokensIn: 5, TokensOut: 3}, nil
}

type fakeTTS struct{ pcmBytes int }

func (f *fakeTTS) Name() string { return "fake-tts" }
func (f *fakeTTS) Synthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language) ([]byte, error) {
	return make([]byte, f.pcmBytes), nil
}
func (f *fakeTTS) StreamSynthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language, onChunk func([]byte) error) error {
	return onChunk(make([]byte, f.pcmBytes))
}

type testServer struct {
	srv             *httptest.Server
	analyticsRoot   string
	transcriptsRoot string
}

func newTestServer(t *testing.T, stt orchestrator.STTProvider, llm orchestrator.LLMProvider, tts orchestrator.TTSProvider) *testServer {
	t.Helper()
	pipeline := orchestrator.NewPipeline(stt, llm, tts, orchestrator.DefaultPipelineConfig(), nil)
	broadcaster := dashboard.NewBroadcaster(nil)
	analyticsRoot, transcriptsRoot := t.TempDir(), t.TempDir()
	recorder := analytics.NewRecorder(analyticsRoot, transcriptsRoot, broadcaster, nil)

	handler := NewHandler(pipeline, recorder, broadcaster, nil, nil, nil, Config{}, nil)
	return &testServer{srv: httptest.NewServer(handler), analyticsRoot: analyticsRoot, transcriptsRoot: transcriptsRoot}
}

func (ts *testServer) dialAndStart(t *testing.T, callID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.srv.URL, "http")
	conn, _, err := websocket.Dial(context.Background(), wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	send(t, conn, map[string]interface{}{"event": "connected"})
	send(t, conn, map[string]interface{}{
		"event": "start",
		"start": map[string]interface{}{
			"streamSid":        "stream-1",
			"customParameters": map[string]string{"call_sid": callID, "caller": "+390000"},
		},
	})
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if err := conn.Write(context.Background(), websocket.MessageText, data); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

// waitForSummary polls for summary.json to appear, which FinalizeCall
// writes only after the session loop has fully wound down.
func waitForSummary(t *testing.T, root, callID string) analytics.CallSummary {
	t.Helper()
	path := filepath.Join(root, callID, "summary.json")
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if data, err := os.ReadFile(path); err == nil {
			var summary analytics.CallSummary
			if err := json.Unmarshal(data, &summary); err != nil {
				t.Fatalf("unmarshal summary: %v", err)
			}
			return summary
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("summary.json never appeared for call %s", callID)
	return analytics.CallSummary{}
}

func readEventTypes(t *testing.T, root, callID string) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, callID, "events.jsonl"))
	if err != nil {
		t.Fatalf("read events.jsonl: %v", err)
	}
	var types []string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var evt analytics.Event
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			t.Fatalf("unmarshal event line: %v", err)
		}
		types = append(types, string(evt.Type))
	}
	return types
}

func TestGreetingOnlyScenario(t *testing.T) {
	ts := newTestServer(t, &fakeSTT{}, &fakeLLM{}, &fakeTTS{pcmBytes: 4800})
	defer ts.srv.Close()

	conn := ts.dialAndStart(t, "C1")
	send(t, conn, map[string]interface{}{"event": "stop"})
	defer conn.Close(websocket.StatusNormalClosure, "")

	summary := waitForSummary(t, ts.analyticsRoot, "C1")
	if summary.TotalTurns != 1 || summary.AITurns != 1 || summary.CallerTurns != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	wantPrefix := []string{
		"call_started", "stream_connected", "greeting_started",
		"tts_started", "tts_completed", "playback_started", "playback_completed",
		"greeting_completed", "call_ended",
	}
	got := readEventTypes(t, ts.analyticsRoot, "C1")
	if len(got) != len(wantPrefix) {
		t.Fatalf("event sequence = %v, want %v", got, wantPrefix)
	}
	for i, w := range wantPrefix {
		if got[i] != w {
			t.Errorf("event[%d] = %q, want %q", i, got[i], w)
		}
	}
}

func TestSingleExchangeScenario(t *testing.T) {
	ts := newTestServer(t, &fakeSTT{transcript: "Pronto"}, &fakeLLM{reply: "Salve, mi dica."}, &fakeTTS{pcmBytes: 4800})
	defer ts.srv.Close()

	conn := ts.dialAndStart(t, "C2")

	mulawFrame := make([]byte, 160) // 0x00 decodes to a loud tone, well above silence_rms
	payload := base64.StdEncoding.EncodeToString(mulawFrame)
	for i := 0; i < 60; i++ { // ~1.2s of tone at 20ms/frame
		send(t, conn, map[string]interface{}{"event": "media", "media": map[string]interface{}{"payload": payload}})
	}
	// 75 frames of silence (mulaw 0xFF decodes near zero amplitude). The
	// frames arrive far faster than real time, so the segmenter's silence
	// timer does not elapse; the flush on the stop frame closes the utterance.
	silence := make([]byte, 160)
	for i := range silence {
		silence[i] = 0xFF
	}
	silencePayload := base64.StdEncoding.EncodeToString(silence)
	for i := 0; i < 75; i++ {
		send(t, conn, map[string]interface{}{"event": "media", "media": map[string]interface{}{"payload": silencePayload}})
	}
	send(t, conn, map[string]interface{}{"event": "stop"})
	defer conn.Close(websocket.StatusNormalClosure, "")

	summary := waitForSummary(t, ts.analyticsRoot, "C2")
	if summary.TotalTurns < 2 {
		t.Fatalf("expected greeting turn plus at least one caller turn, got %+v", summary)
	}
	if summary.CallerTurns < 1 {
		t.Fatalf("expected at least one caller turn, got %+v", summary)
	}
}
