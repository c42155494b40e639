package conversation

import (
	"context"
	"fmt"
	"time"
)

// Role identifies the author side of a conversation turn. The set is
// closed; unknown roles are rejected when a message enters the log.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether the role is recognized.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ParseRole converts a raw string into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role: %q", s)
	}
	return r, nil
}

// Message is one turn in a session's append-only conversation log. Seq is
// server-assigned and monotonic within the session; the log is never edited
// in place.
type Message struct {
	SessionID string    `json:"session_id"`
	Seq       int64     `json:"seq"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	UserID    string    `json:"user_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// IncomingMessage is a caller-supplied turn before sequence assignment.
// A zero Timestamp is stamped with the server clock at append time.
type IncomingMessage struct {
	Role      Role
	Content   string
	UserID    string
	Timestamp time.Time
}

// HistoryOptions bounds a paginated history read. Zero dates mean
// unbounded; Limit defaults to 50.
type HistoryOptions struct {
	SessionID string
	Limit     int
	Offset    int
	StartDate time.Time
	EndDate   time.Time
}

// Page is one slice of the ordered log. HasMore reports whether messages
// remain past Offset+Limit.
type Page struct {
	Messages   []*Message `json:"messages"`
	TotalCount int        `json:"total_count"`
	HasMore    bool       `json:"has_more"`
}

// SearchOptions configures a windowed search. ContextSize is the number of
// messages pulled in on each side of a match.
type SearchOptions struct {
	SessionID   string
	Query       string
	Limit       int
	ContextSize int
}

// SearchMatch is one merged match window: the messages that matched the
// query plus the surrounding context, in log order. Overlapping windows
// are merged, so no message appears in more than one match.
type SearchMatch struct {
	Matches []*Message `json:"matches"`
	Window  []*Message `json:"window"`
}

// SummaryOptions selects the window to condense. MaxMessages keeps the
// most recent messages when the window holds more; it defaults to 100.
type SummaryOptions struct {
	SessionID   string
	StartDate   time.Time
	EndDate     time.Time
	MaxMessages int
}

// Summary is the condensed view of a conversation window. When the
// summarization provider is unreachable the Summary text degrades to a
// deterministic fallback while the locally computed fields stay intact.
type Summary struct {
	SessionID    string    `json:"session_id"`
	Summary      string    `json:"summary"`
	Topics       []string  `json:"topics,omitempty"`
	Participants []string  `json:"participants,omitempty"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	MessageCount int       `json:"message_count"`
}

// Stats aggregates a session's log.
type Stats struct {
	SessionID       string        `json:"session_id"`
	TotalMessages   int           `json:"total_messages"`
	MessagesByRole  map[Role]int  `json:"messages_by_role"`
	AverageLength   float64       `json:"average_length"`
	Duration        time.Duration `json:"duration"`
	MessagesPerHour float64       `json:"messages_per_hour"`
	BusiestHour     int           `json:"busiest_hour"`
	FirstMessage    time.Time     `json:"first_message"`
	LastMessage     time.Time     `json:"last_message"`
}

// RangeOptions bounds a repository range scan. Zero dates mean unbounded;
// a non-positive Limit means no limit.
type RangeOptions struct {
	Start  time.Time
	End    time.Time
	Limit  int
	Offset int
}

// Repository is the durable storage contract for the conversation log.
// Implementations: storage/memstore, storage/sqlite, storage/postgres,
// storage/redis.
type Repository interface {
	// Append persists a batch atomically, assigning each message a
	// monotonic sequence in the order given. Concurrent batches for one
	// session interleave without interleaving internally.
	Append(ctx context.Context, sessionID string, messages []*Message) error

	// Range returns messages ordered by sequence ascending, bounded by
	// the options.
	Range(ctx context.Context, sessionID string, opts RangeOptions) ([]*Message, error)

	// Count returns the number of messages within the date bounds of the
	// options (Limit and Offset are ignored).
	Count(ctx context.Context, sessionID string, opts RangeOptions) (int, error)

	// Cleanup removes messages that are both older than the cutoff AND
	// outside the newest keepNewest messages, returning the count
	// removed. A message satisfying either retention condition survives.
	Cleanup(ctx context.Context, sessionID string, olderThan time.Time, keepNewest int) (int, error)
}
