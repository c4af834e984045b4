package models

// Notification is one entry in a recipient's event stream. Sequence is
// per-(exchange, exchangeId) and strictly increasing, so readers can ask for
// "everything after sequence X". Delivery is best-effort: streams are capped
// and TTL-bounded.
type Notification struct {
	Sequence  int64                  `json:"sequence"`
	Queue     string                 `json:"queue"`
	Event     string                 `json:"event"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

// ExchangePlayers is the exchange for per-player notification streams.
const ExchangePlayers = "players"
