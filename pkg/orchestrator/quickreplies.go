package orchestrator

// quickReplyLexicon is the fixed set of trivial caller utterances answered
// without an LLM call, carried over from the Italian phone-proxy's prompt
// library. Keys are already normalized (lowercase, trimmed, no trailing
// punctuation).
var quickReplyLexicon = map[string]string{
	"buongiorno":   "Buongiorno.",
	"buonasera":    "Buonasera.",
	"ok":           "Va bene.",
	"va bene":      "Perfetto.",
	"d'accordo":    "D'accordo.",
	"grazie":       "Prego.",
	"grazie mille": "Prego, si figuri.",
	"arrivederci":  "Arrivederci, buona giornata.",
	"ciao":         "Arrivederci.",
}
