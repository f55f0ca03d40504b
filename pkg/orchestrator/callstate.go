package orchestrator

import (
	"sort"
	"strings"
)

// KnowledgeSnapshot is the caller/account-specific knowledge a call starts
// with: identity, address, known accounts, verification questions and
// preferences. It is supplied once at call start and is immutable for the
// life of the call so the LLM context stays cache-friendly.
type KnowledgeSnapshot struct {
	ResidentName    string
	Address         string
	AddressAliases  []string
	Directions      string
	Accounts        map[string]string // provider -> account reference
	Verification    map[string]string // question -> expected answer
	SafePlace       string
	Preferences     string
}

// BuildSystemPrompt renders a KnowledgeSnapshot into the fixed system
// prompt for a call. It is a pure function: same snapshot, same prompt,
// every time, which is what lets the LLM adapter treat the prompt as a
// stable cache prefix.
func BuildSystemPrompt(snap KnowledgeSnapshot, callerID string) string {
	var b strings.Builder

	b.WriteString("Sei un assistente telefonico che risponde per conto del residente. ")
	b.WriteString("Rispondi in modo breve, naturale e cortese.\n\n")

	if snap.ResidentName != "" {
		b.WriteString("Identità: " + snap.ResidentName + ".\n")
	}
	if snap.Address != "" {
		b.WriteString("Indirizzo: " + snap.Address)
		if len(snap.AddressAliases) > 0 {
			b.WriteString(" (anche noto come: " + strings.Join(snap.AddressAliases, ", ") + ")")
		}
		b.WriteString(".\n")
	}
	if snap.Directions != "" {
		b.WriteString("Indicazioni per il corriere: " + snap.Directions + ".\n")
	}
	if len(snap.Accounts) > 0 {
		b.WriteString("Account noti:\n")
		for _, provider := range sortedKeys(snap.Accounts) {
			b.WriteString("- " + provider + ": " + snap.Accounts[provider] + "\n")
		}
	}
	if len(snap.Verification) > 0 {
		b.WriteString("Domande di verifica disponibili:\n")
		for _, q := range sortedKeys(snap.Verification) {
			b.WriteString("- " + q + " -> " + snap.Verification[q] + "\n")
		}
	}
	if snap.SafePlace != "" {
		b.WriteString("Luogo sicuro per consegne: " + snap.SafePlace + ".\n")
	}
	if snap.Preferences != "" {
		b.WriteString("Preferenze: " + snap.Preferences + ".\n")
	}

	b.WriteString("\nNon condividere mai dettagli bancari completi, non modificare contratti, ")
	b.WriteString("non confermare pagamenti. Se non sei sicuro, chiedi di richiamare più tardi.")

	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CallConversation is the per-call conversation state C5 is responsible
// for: an immutable system prompt, an ordered message history, the turn
// counter, and the goodbye/terminal-phrase detector. This type has no
// direct provider access — the turn pipeline (C4) drives it.
type CallConversation struct {
	systemPrompt  string
	history       []Message
	turnCount     int
	nextTurnIndex int
	contextTurns  int
}

// NewCallConversation builds the immutable system prompt from snap and
// seeds history with the AI greeting as turn 0, matching the fixed
// resolution that the greeting is always turn_index 0.
func NewCallConversation(snap KnowledgeSnapshot, callerID string, contextTurns int, greeting string) *CallConversation {
	if contextTurns <= 0 {
		contextTurns = 4
	}
	c := &CallConversation{
		systemPrompt:  BuildSystemPrompt(snap, callerID),
		contextTurns:  contextTurns,
		nextTurnIndex: 1,
	}
	c.history = append(c.history, Message{Role: "assistant", Content: greeting})
	return c
}

// SystemPrompt returns the fixed prompt for the call.
func (c *CallConversation) SystemPrompt() string {
	return c.systemPrompt
}

// AddCallerMessage appends a caller utterance's transcript to history.
func (c *CallConversation) AddCallerMessage(text string) {
	c.history = append(c.history, Message{Role: "user", Content: text})
}

// AddAIMessage appends the AI's reply to history and advances turn_count.
// A turn is the caller+AI pair (or, for turn 0, the greeting alone); it is
// indexed by utterance, not incremented per message.
func (c *CallConversation) AddAIMessage(text string) {
	c.history = append(c.history, Message{Role: "assistant", Content: text})
	c.turnCount++
}

// TurnCount returns the number of AI replies added with AddAIMessage; the
// greeting seeded at construction is not counted.
func (c *CallConversation) TurnCount() int {
	return c.turnCount
}

// NextTurnIndex allocates the index for the next admitted utterance and
// advances the counter. Allocation happens once per utterance handed to
// the pipeline, regardless of whether that turn ultimately completes, so
// a failed or empty transcription never causes two turns to share an
// index.
func (c *CallConversation) NextTurnIndex() int {
	idx := c.nextTurnIndex
	c.nextTurnIndex++
	return idx
}

// ContextWindow returns the tail of size 2*context_turns most recent
// messages, prefixed by the system prompt, ready to send to the LLM.
func (c *CallConversation) ContextWindow() []Message {
	window := 2 * c.contextTurns
	tail := c.history
	if len(tail) > window {
		tail = tail[len(tail)-window:]
	}
	out := make([]Message, 0, len(tail)+1)
	out = append(out, Message{Role: "system", Content: c.systemPrompt})
	out = append(out, tail...)
	return out
}

// History returns a copy of the full message history.
func (c *CallConversation) History() []Message {
	out := make([]Message, len(c.history))
	copy(out, c.history)
	return out
}

var goodbyePhrases = []string{
	"arrivederci",
	"a presto",
	"buona giornata",
	"buonanotte",
	"ciao ciao",
	"alla prossima",
}

// IsGoodbye reports whether text contains a configured goodbye phrase
// (case-insensitive substring match).
func IsGoodbye(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range goodbyePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// NormalizeQuickReplyKey lowercases, trims, and strips trailing
// punctuation, matching the lookup key used by the quick-reply lexicon.
func NormalizeQuickReplyKey(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.TrimRight(s, ".,!?")
	return s
}

// QuickReply looks up text in the fixed quick-reply lexicon. ok is false if
// there is no exact normalized match, in which case the caller should fall
// through to the LLM.
func QuickReply(text string) (reply string, ok bool) {
	reply, ok = quickReplyLexicon[NormalizeQuickReplyKey(text)]
	return reply, ok
}
