package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// StyleDirective is prepended to every relayed conversation so the backend
// keeps answers short.
const StyleDirective = "Please make sure it should not be more than 50 words"

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client talks to the external clinic backend. It returns raw *http.Response
// values for the relayed endpoints; the caller owns the body.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		// No client-wide timeout: chat responses stream for a while and the
		// per-request context bounds them instead.
		HTTP: &http.Client{},
	}
}

func (c *Client) do(ctx context.Context, method, path, token string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.HTTP.Do(req)
}

// SendChat forwards a new user message to the conversation addressed by
// sessionID. The backend streams its reply; the returned response body is
// the live stream.
func (c *Client) SendChat(ctx context.Context, token, sessionID, userMessage string) (*http.Response, error) {
	msgs := []ChatMessage{
		{Role: "assistant", Content: StyleDirective},
		{Role: "user", Content: userMessage},
	}
	b, err := json.Marshal(msgs)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/chat/%s", sessionID), token, bytes.NewReader(b))
}

// History fetches the durable transcript for a conversation.
func (c *Client) History(ctx context.Context, token, sessionID string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, fmt.Sprintf("/chat/%s/history", sessionID), token, nil)
}

// Signin forwards raw signin JSON and returns the backend response as-is.
func (c *Client) Signin(ctx context.Context, body io.Reader) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, "/auth/signin", "", body)
}

// Signup forwards raw signup JSON and returns the backend response as-is.
func (c *Client) Signup(ctx context.Context, body io.Reader) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, "/auth/signup", "", body)
}

func (c *Client) ListPatients(ctx context.Context, token string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, "/patients/", token, nil)
}

func (c *Client) CreatePatient(ctx context.Context, token string, body io.Reader) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, "/patients/", token, body)
}

func (c *Client) UpdatePatient(ctx context.Context, token, id string, body io.Reader) (*http.Response, error) {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/patients/%s", id), token, body)
}

func (c *Client) DeletePatient(ctx context.Context, token, id string) (*http.Response, error) {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/patients/%s", id), token, nil)
}
