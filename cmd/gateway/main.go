package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/lokutor-ai/lokutor-orchestrator/internal/analytics"
	"github.com/lokutor-ai/lokutor-orchestrator/internal/carrier"
	"github.com/lokutor-ai/lokutor-orchestrator/internal/dashboard"
	"github.com/lokutor-ai/lokutor-orchestrator/internal/hangup"
	"github.com/lokutor-ai/lokutor-orchestrator/internal/knowledge"
	"github.com/lokutor-ai/lokutor-orchestrator/internal/metrics"
	"github.com/lokutor-ai/lokutor-orchestrator/internal/scheduler"
	"github.com/lokutor-ai/lokutor-orchestrator/internal/sms"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
	llmProvider "github.com/lokutor-ai/lokutor-orchestrator/pkg/providers/llm"
	sttProvider "github.com/lokutor-ai/lokutor-orchestrator/pkg/providers/stt"
	ttsProvider "github.com/lokutor-ai/lokutor-orchestrator/pkg/providers/tts"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, using system environment variables")
	}

	logger := orchestrator.NewStdLogger()

	groqKey := os.Getenv("GROQ_API_KEY")
	openaiKey := os.Getenv("OPENAI_API_KEY")
	anthropicKey := os.Getenv("ANTHROPIC_API_KEY")
	googleKey := os.Getenv("GOOGLE_API_KEY")
	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	assemblyKey := os.Getenv("ASSEMBLYAI_API_KEY")
	lokutorKey := os.Getenv("LOKUTOR_API_KEY")

	sttProviderName := envOr("STT_PROVIDER", "groq")
	llmProviderName := envOr("LLM_PROVIDER", "groq")
	lang := orchestrator.Language(envOr("AGENT_LANGUAGE", string(orchestrator.LanguageIt)))

	if lokutorKey == "" {
		log.Fatal("Error: LOKUTOR_API_KEY must be set.")
	}

	var stt orchestrator.STTProvider
	switch sttProviderName {
	case "openai":
		if openaiKey == "" {
			log.Fatal("Error: OPENAI_API_KEY must be set for openai STT")
		}
		stt = sttProvider.NewOpenAISTT(openaiKey, envOr("OPENAI_STT_MODEL", "whisper-1"))
	case "deepgram":
		if deepgramKey == "" {
			log.Fatal("Error: DEEPGRAM_API_KEY must be set for deepgram STT")
		}
		stt = sttProvider.NewDeepgramSTT(deepgramKey)
	case "assemblyai":
		if assemblyKey == "" {
			log.Fatal("Error: ASSEMBLYAI_API_KEY must be set for assemblyai STT")
		}
		stt = sttProvider.NewAssemblyAISTT(assemblyKey)
	case "groq":
		fallthrough
	default:
		if groqKey == "" {
			log.Fatal("Error: GROQ_API_KEY must be set for groq STT")
		}
		stt = sttProvider.NewGroqSTT(groqKey, envOr("GROQ_STT_MODEL", "whisper-large-v3-turbo"))
	}

	var llm orchestrator.LLMProvider
	switch llmProviderName {
	case "openai":
		if openaiKey == "" {
			log.Fatal("Error: OPENAI_API_KEY must be set for openai LLM")
		}
		llm = llmProvider.NewOpenAILLM(openaiKey, envOr("OPENAI_LLM_MODEL", "gpt-4o"))
	case "anthropic":
		if anthropicKey == "" {
			log.Fatal("Error: ANTHROPIC_API_KEY must be set for anthropic LLM")
		}
		llm = llmProvider.NewAnthropicLLM(anthropicKey, envOr("ANTHROPIC_LLM_MODEL", "claude-3-5-sonnet-20241022"))
	case "google":
		if googleKey == "" {
			log.Fatal("Error: GOOGLE_API_KEY must be set for google LLM")
		}
		llm = llmProvider.NewGoogleLLM(googleKey, envOr("GOOGLE_LLM_MODEL", "gemini-1.5-flash"))
	case "groq":
		fallthrough
	default:
		if groqKey == "" {
			log.Fatal("Error: GROQ_API_KEY must be set for groq LLM")
		}
		llm = llmProvider.NewGroqLLM(groqKey, envOr("GROQ_LLM_MODEL", "llama-3.3-70b-versatile"))
	}

	tts := ttsProvider.NewLokutorTTS(lokutorKey)

	fmt.Printf("Configured: STT=%s | LLM=%s | TTS=Lokutor | Language=%s\n", sttProviderName, llmProviderName, lang)

	pipelineCfg := orchestrator.DefaultPipelineConfig()
	pipeline := orchestrator.NewPipeline(stt, llm, tts, pipelineCfg, logger)

	var knowledgeStore *knowledge.Store
	if path := os.Getenv("KNOWLEDGE_PATH"); path != "" {
		ks, err := knowledge.Load(path)
		if err != nil {
			log.Fatalf("Error: failed to load knowledge base at %s: %v", path, err)
		}
		knowledgeStore = ks
	}
	knowledgeLookup := func(callerID string) orchestrator.KnowledgeSnapshot {
		if knowledgeStore == nil {
			return orchestrator.KnowledgeSnapshot{}
		}
		return knowledgeStore.Lookup(callerID)
	}

	registry := prometheus.NewRegistry()

	dashboardBroadcaster := dashboard.NewBroadcaster(logger)
	eventMetrics := metrics.NewEventBroadcaster(dashboardBroadcaster, registry)
	activeCalls := metrics.NewActiveCallsGauge(registry)

	analyticsRoot := envOr("ANALYTICS_ROOT", "data/calls")
	transcriptsRoot := envOr("TRANSCRIPTS_ROOT", "data/transcripts")
	recorder := analytics.NewRecorder(analyticsRoot, transcriptsRoot, eventMetrics, logger)

	var smsSender scheduler.SMSSender
	if endpoint := os.Getenv("SMS_ENDPOINT"); endpoint != "" {
		smsSender = sms.NewHTTPSender(sms.Config{
			Endpoint: endpoint,
			APIKey:   os.Getenv("SMS_API_KEY"),
			From:     os.Getenv("SMS_FROM"),
		}, logger)
	} else {
		smsSender = sms.NewNoOpSender(logger)
	}
	locationMgr := scheduler.NewLocationManager(smsSender, dashboardBroadcaster, logger)

	hangupClt := hangup.NewClient(hangup.Config{
		EndpointFmt: os.Getenv("HANGUP_ENDPOINT_FMT"),
		BearerToken: os.Getenv("HANGUP_BEARER_TOKEN"),
	}, dashboardBroadcaster, logger)

	carrierHandler := carrier.NewHandler(
		pipeline,
		recorder,
		dashboardBroadcaster,
		hangupClt,
		locationMgr,
		knowledgeLookup,
		carrier.Config{
			Greeting:     envOr("GREETING_TEXT", "Pronto, mi dica."),
			ContextTurns: pipelineCfg.ContextTurns,
			Language:     lang,
		},
		logger,
	)

	onLocationSignal := func(signal, callID, caller string) {
		switch signal {
		case "send":
			locationMgr.SendNow(callID)
		case "cancel":
			locationMgr.Cancel(callID)
		}
	}
	dashboardServer := dashboard.NewServer(dashboardBroadcaster, onLocationSignal, logger)

	mux := http.NewServeMux()
	mux.Handle("/carrier/media", carrierHandler)
	mux.Handle("/dashboard", dashboardServer)
	mux.Handle("/metrics", metrics.Handler(registry))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":       "ok",
			"active_calls": dashboardBroadcaster.ActiveCallCount(),
		})
	})

	addr := ":" + envOr("PORT", "8080")
	server := &http.Server{Addr: addr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		activeCalls.Watch(gctx, 5*time.Second, dashboardBroadcaster.ActiveCallCount)
		return nil
	})

	group.Go(func() error {
		fmt.Printf("Gateway listening on %s\n", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Printf("gateway exited with error: %v", err)
	}
	fmt.Println("Shutting down...")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

