package carrier

import "encoding/json"

// inboundFrame is the carrier media WebSocket's inbound envelope (§6
// "Carrier media protocol (inbound WebSocket)"): a JSON object whose
// event field selects which of the optional sub-objects is populated.
type inboundFrame struct {
	Event string `json:"event"`

	Start *startPayload `json:"start,omitempty"`
	Media *mediaPayload `json:"media,omitempty"`
	Mark  *markPayload  `json:"mark,omitempty"`
}

type startPayload struct {
	StreamSID       string            `json:"streamSid"`
	CustomParams    map[string]string `json:"customParameters"`
	MediaFormat     json.RawMessage   `json:"mediaFormat,omitempty"`
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

type markPayload struct {
	Name string `json:"name"`
}

// outboundMediaFrame is the outbound carrier media event: a base64 mulaw
// 8kHz chunk addressed to the stream the session was handed on `start`.
type outboundMediaFrame struct {
	Event     string            `json:"event"`
	StreamSID string            `json:"streamSid"`
	Media     outboundMediaBody `json:"media"`
}

type outboundMediaBody struct {
	Payload string `json:"payload"`
}

// outboundMarkFrame correlates playback completion with an utterance.
type outboundMarkFrame struct {
	Event     string           `json:"event"`
	StreamSID string           `json:"streamSid"`
	Mark      outboundMarkBody `json:"mark"`
}

type outboundMarkBody struct {
	Name string `json:"name"`
}
