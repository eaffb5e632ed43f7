package conversation

import (
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewMessageID returns a client-assigned id for locally created turns.
func NewMessageID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in the transcript. Only the in-flight assistant
// placeholder is ever mutated; everything else is immutable once appended.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
)

var (
	ErrEmptyInput   = errors.New("conversation: empty input")
	ErrSendInFlight = errors.New("conversation: a send is already in flight")
	ErrNotIdle      = errors.New("conversation: transcript is busy")
)

// Transcript is the in-memory conversation view model. It enforces the
// single in-flight invariant: at most one assistant message is being
// extended at any time, and new sends are rejected until the cycle settles.
type Transcript struct {
	mu sync.Mutex

	msgs  []Message
	state State

	// Send cycle bookkeeping, reset every cycle.
	placeholderID string
	gotContent    bool

	lastErr string
}

func NewTranscript() *Transcript {
	return &Transcript{}
}

// LoadHistory replaces the transcript with previously stored messages.
// It is a one-shot mount-time operation and refuses to run mid-send.
func (t *Transcript) LoadHistory(msgs []Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateIdle {
		return ErrNotIdle
	}
	t.msgs = append([]Message(nil), msgs...)
	return nil
}

// Begin starts a send cycle: appends the user message and an empty assistant
// placeholder, clears any previous error, and moves to Sending. It returns
// the placeholder id the stream updates are keyed by.
func (t *Transcript) Begin(input string) (placeholderID string, err error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", ErrEmptyInput
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateIdle {
		return "", ErrSendInFlight
	}

	userID, err := NewMessageID()
	if err != nil {
		return "", err
	}
	asstID, err := NewMessageID()
	if err != nil {
		return "", err
	}

	now := time.Now()
	t.msgs = append(t.msgs,
		Message{ID: userID, Role: RoleUser, Content: input, CreatedAt: now},
		Message{ID: asstID, Role: RoleAssistant, Content: "", CreatedAt: now},
	)
	t.state = StateSending
	t.placeholderID = asstID
	t.gotContent = false
	t.lastErr = ""
	return asstID, nil
}

// MarkStreaming records that the relay call has been dispatched and bytes
// may now arrive.
func (t *Transcript) MarkStreaming() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateSending {
		t.state = StateStreaming
	}
}

// Apply replaces the in-flight placeholder's content. Updates for any other
// message, or outside an active cycle, are ignored.
func (t *Transcript) Apply(placeholderID, content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateStreaming || placeholderID != t.placeholderID {
		return
	}
	for i := range t.msgs {
		if t.msgs[i].ID == placeholderID {
			t.msgs[i].Content = content
			t.gotContent = true
			return
		}
	}
}

// Finish settles the cycle and returns the transcript to Idle.
// With a nil error and at least one applied update the placeholder becomes a
// normal immutable message. On error, or when the stream ended before any
// content arrived, the placeholder is removed so no empty bubble remains.
func (t *Transcript) Finish(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateIdle {
		return
	}

	if err != nil || !t.gotContent {
		t.removePlaceholderLocked()
	}
	if err != nil {
		t.lastErr = err.Error()
	}

	t.state = StateIdle
	t.placeholderID = ""
	t.gotContent = false
}

func (t *Transcript) removePlaceholderLocked() {
	for i := range t.msgs {
		if t.msgs[i].ID == t.placeholderID {
			t.msgs = append(t.msgs[:i], t.msgs[i+1:]...)
			return
		}
	}
}

// SetError records a user-visible error outside the send cycle
// (history load failures).
func (t *Transcript) SetError(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastErr = msg
}

// Err returns the current user-visible error indicator, empty if none.
func (t *Transcript) Err() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

func (t *Transcript) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Messages returns a copy of the transcript in order.
func (t *Transcript) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Message(nil), t.msgs...)
}
