package model

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one stored conversation turn, embedded for later retrieval.
type Message struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	SessionID string            `json:"session_id"`
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Embedding []float32         `json:"-"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Ctime     int64             `json:"ctime"`
}

// Turn is the transport shape of one recent-history entry handed in by the
// chat endpoint.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
