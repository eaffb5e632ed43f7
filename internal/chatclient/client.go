package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/dentalcare/clinic-gateway/internal/conversation"
	"github.com/dentalcare/clinic-gateway/internal/stream"
	"go.uber.org/zap"
)

// Client is the programmatic counterpart of the browser chat UI: it signs in
// against the gateway, keeps the session cookie in a jar, and runs send
// cycles through the stream decoder into a conversation transcript.
type Client struct {
	base       string
	http       *http.Client
	transcript *conversation.Transcript
	log        *zap.Logger
}

func New(baseURL string, log *zap.Logger) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return NewWithClient(baseURL, &http.Client{Jar: jar}, log), nil
}

// NewWithClient builds a Client over a caller-supplied http.Client. The
// session cookie is Secure, so the client (and its jar) must speak TLS to the
// gateway for authenticated calls to work.
func NewWithClient(baseURL string, hc *http.Client, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		base:       baseURL,
		http:       hc,
		transcript: conversation.NewTranscript(),
		log:        log,
	}
}

func (c *Client) Transcript() *conversation.Transcript {
	return c.transcript
}

// gatewayError extracts the gateway's {"error": ...} body into a Go error.
func gatewayError(status int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		return errors.New(payload.Error)
	}
	return fmt.Errorf("gateway returned status %d", status)
}

// Signin authenticates and leaves the session cookie in the jar.
func (c *Client) Signin(ctx context.Context, email, password string) error {
	b, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/signin", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return gatewayError(resp.StatusCode, body)
	}
	return nil
}

// Signout clears the server-side session; the jar drops the expired cookie.
func (c *Client) Signout(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/auth/signout", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type historyMessage struct {
	ID        any       `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// LoadHistory populates the transcript from the backend's durable log.
// One-shot, mount-time; a failure sets the transcript's error indicator but
// never disturbs an eventual send cycle.
func (c *Client) LoadHistory(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/chat/history", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("history fetch failed", zap.Error(err))
		c.transcript.SetError("could not load chat history")
		return err
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		c.transcript.SetError("could not load chat history")
		return readErr
	}
	if resp.StatusCode != http.StatusOK {
		c.transcript.SetError("could not load chat history")
		return gatewayError(resp.StatusCode, body)
	}

	var wire []historyMessage
	if err := json.Unmarshal(body, &wire); err != nil {
		c.transcript.SetError("could not load chat history")
		return err
	}

	msgs := make([]conversation.Message, 0, len(wire))
	for _, m := range wire {
		id := fmt.Sprint(m.ID)
		if m.ID == nil || id == "" {
			if id, err = conversation.NewMessageID(); err != nil {
				return err
			}
		}
		msgs = append(msgs, conversation.Message{
			ID:        id,
			Role:      conversation.Role(m.Role),
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		})
	}
	return c.transcript.LoadHistory(msgs)
}

// Send runs one full send cycle: append user message + placeholder, relay the
// message, decode the stream into the placeholder, settle. Returns
// conversation.ErrSendInFlight while a previous cycle is still streaming.
func (c *Client) Send(ctx context.Context, message string) error {
	placeholderID, err := c.transcript.Begin(message)
	if err != nil {
		return err
	}

	err = c.relay(ctx, message, placeholderID)
	c.transcript.Finish(err)
	return err
}

func (c *Client) relay(ctx context.Context, message, placeholderID string) error {
	b, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/chat", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	c.transcript.MarkStreaming()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return gatewayError(resp.StatusCode, body)
	}

	// Fresh decoder per send; state never leaks across cycles.
	return stream.Consume(ctx, resp.Body, func(content string) {
		c.transcript.Apply(placeholderID, content)
	})
}
