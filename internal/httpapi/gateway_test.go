package httpapi_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dentalcare/clinic-gateway/internal/audit"
	"github.com/dentalcare/clinic-gateway/internal/auth"
	"github.com/dentalcare/clinic-gateway/internal/config"
	"github.com/dentalcare/clinic-gateway/internal/httpapi"
	"github.com/dentalcare/clinic-gateway/internal/httpapi/handlers"
	"github.com/dentalcare/clinic-gateway/internal/upstream"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const testSecret = "gateway-test-secret"

type capturedPublisher struct {
	mu     sync.Mutex
	events []audit.Event
}

func (p *capturedPublisher) Publish(ctx context.Context, ev audit.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *capturedPublisher) all() []audit.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]audit.Event(nil), p.events...)
}

type fakeRevoker struct {
	mu     sync.Mutex
	tokens []string
	ttls   []time.Duration
}

func (f *fakeRevoker) RevokeToken(ctx context.Context, token string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	f.ttls = append(f.ttls, ttl)
	return nil
}

func newGateway(t *testing.T, backendURL string, pub handlers.EventPublisher, rev handlers.TokenRevoker) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{
		BackendEndpoint: backendURL,
		JWTSecret:       testSecret,
		CookieName:      "token",
		StreamTimeout:   10 * time.Second,
	}
	log := zap.NewNop()
	verifier := auth.NewVerifier(cfg.JWTSecret, nil)
	h := handlers.NewHandler(cfg, upstream.NewClient(backendURL), rev, pub, log)
	return httpapi.NewRouter(cfg, h, verifier, log)
}

func signedCookie(t *testing.T, subject, sessionID string) *http.Cookie {
	t.Helper()
	token, err := auth.Sign(testSecret, subject, sessionID, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return &http.Cookie{Name: "token", Value: token}
}

func doChat(r *gin.Engine, cookie *http.Cookie, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestChatRelay_RejectedAuthNeverCallsUpstream(t *testing.T) {
	var calls atomic.Int64
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer backend.Close()

	r := newGateway(t, backend.URL, nil, nil)

	// missing credential
	w := doChat(r, nil, `{"message":"hi"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	// invalid credential
	w = doChat(r, &http.Cookie{Name: "token", Value: "garbage"}, `{"message":"hi"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	// both failures share one response body; nothing distinguishes them
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if payload.Error != "not authenticated" {
		t.Fatalf("unexpected error body: %q", payload.Error)
	}

	if n := calls.Load(); n != 0 {
		t.Fatalf("upstream must not be called on rejected auth, got %d calls", n)
	}
}

func TestChatRelay_NoChatSession(t *testing.T) {
	var calls atomic.Int64
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer backend.Close()

	r := newGateway(t, backend.URL, nil, nil)
	w := doChat(r, signedCookie(t, "alice@clinic.example", ""), `{"message":"hi"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "no chat session associated") {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
	if calls.Load() != 0 {
		t.Fatalf("precondition failure must not reach upstream")
	}
}

func TestChatRelay_ForwardsDirectiveThenUserMessage(t *testing.T) {
	var gotPath, gotAuth string
	var gotMsgs []upstream.ChatMessage
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotMsgs)
		io.WriteString(w, `{"content":"Floss daily"}`)
	}))
	defer backend.Close()

	pub := &capturedPublisher{}
	r := newGateway(t, backend.URL, pub, nil)
	cookie := signedCookie(t, "alice@clinic.example", "sess-42")

	w := doChat(r, cookie, `{"message":"How often should I floss?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	if gotPath != "/chat/sess-42" {
		t.Fatalf("unexpected upstream path: %q", gotPath)
	}
	if !strings.HasPrefix(gotAuth, "Bearer ") {
		t.Fatalf("expected bearer credential, got %q", gotAuth)
	}
	if len(gotMsgs) != 2 {
		t.Fatalf("expected 2 forwarded messages, got %d", len(gotMsgs))
	}
	if gotMsgs[0].Role != "assistant" || gotMsgs[0].Content != upstream.StyleDirective {
		t.Fatalf("first message must be the directive: %+v", gotMsgs[0])
	}
	if gotMsgs[1].Role != "user" || gotMsgs[1].Content != "How often should I floss?" {
		t.Fatalf("second message must be the user turn: %+v", gotMsgs[1])
	}

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event-stream content type, got %q", ct)
	}
	if cc := w.Header().Get("Cache-Control"); !strings.Contains(cc, "no-cache") {
		t.Fatalf("expected caching disabled, got %q", cc)
	}
	if w.Body.String() != `{"content":"Floss daily"}` {
		t.Fatalf("body not relayed verbatim: %s", w.Body.String())
	}

	events := pub.all()
	if len(events) != 1 {
		t.Fatalf("expected 1 audit event, got %d", len(events))
	}
	ev := events[0]
	if ev.Subject != "alice@clinic.example" || ev.SessionID != "sess-42" {
		t.Fatalf("unexpected audit event: %+v", ev)
	}
	if ev.Outcome != audit.OutcomeCompleted || ev.BytesRelayed == 0 {
		t.Fatalf("unexpected audit outcome: %+v", ev)
	}
}

func TestChatRelay_UpstreamRejectionPassesThrough(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, "service unavailable")
	}))
	defer backend.Close()

	r := newGateway(t, backend.URL, nil, nil)
	w := doChat(r, signedCookie(t, "alice@clinic.example", "sess-42"), `{"message":"hi"}`)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected upstream status preserved, got %d", w.Code)
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Error != "service unavailable" {
		t.Fatalf("expected upstream payload surfaced, got %q", payload.Error)
	}
}

func TestChatRelay_EmptyUpstreamBody(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK) // success, no body
	}))
	defer backend.Close()

	r := newGateway(t, backend.URL, nil, nil)
	w := doChat(r, signedCookie(t, "alice@clinic.example", "sess-42"), `{"message":"hi"}`)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "no response body from backend") {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestChatRelay_InvalidJSONBody(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	r := newGateway(t, backend.URL, nil, nil)
	w := doChat(r, signedCookie(t, "alice@clinic.example", "sess-42"), `{"message":""}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty message, got %d", w.Code)
	}
}

// TestChatRelay_StreamsWithoutBuffering drives the router over a real
// connection: the upstream holds the second frame until the test has observed
// the first one downstream, which a buffering relay would deadlock on.
func TestChatRelay_StreamsWithoutBuffering(t *testing.T) {
	release := make(chan struct{})
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fl := w.(http.Flusher)
		io.WriteString(w, `{"content":"Floss"}`)
		fl.Flush()
		<-release
		io.WriteString(w, `{"content":"Floss daily"}`)
	}))
	defer backend.Close()

	r := newGateway(t, backend.URL, nil, nil)
	gw := httptest.NewServer(r)
	defer gw.Close()

	token, err := auth.Sign(testSecret, "alice@clinic.example", "sess-42", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, gw.URL+"/api/chat", strings.NewReader(`{"message":"hi"}`))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: "token", Value: token})

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	first := make([]byte, len(`{"content":"Floss"}`))
	if _, err := io.ReadFull(resp.Body, first); err != nil {
		t.Fatalf("read first frame: %v", err)
	}
	if string(first) != `{"content":"Floss"}` {
		t.Fatalf("unexpected first frame: %s", first)
	}

	close(release)

	rest, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read rest: %v", err)
	}
	if string(rest) != `{"content":"Floss daily"}` {
		t.Fatalf("unexpected tail: %s", rest)
	}
}

func TestChatHistory_VerbatimPassthrough(t *testing.T) {
	historyJSON := `[{"id":1,"role":"user","content":"hi","created_at":"2026-01-02T10:00:00Z"}]`
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/sess-42/history" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, historyJSON)
	}))
	defer backend.Close()

	r := newGateway(t, backend.URL, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/chat/history", nil)
	req.AddCookie(signedCookie(t, "alice@clinic.example", "sess-42"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != historyJSON {
		t.Fatalf("history not relayed verbatim: %s", w.Body.String())
	}
}

func TestChatHistory_UpstreamFailure(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "boom")
	}))
	defer backend.Close()

	r := newGateway(t, backend.URL, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/chat/history", nil)
	req.AddCookie(signedCookie(t, "alice@clinic.example", "sess-42"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected upstream status mirrored, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "failed to fetch chat history") {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestPatients_Passthrough(t *testing.T) {
	patientsJSON := `[{"id":"p1","name":"John Doe"}]`
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/patients/":
			io.WriteString(w, patientsJSON)
		case r.Method == http.MethodDelete && r.URL.Path == "/patients/p1":
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"message":"patient not found"}`)
		default:
			t.Errorf("unexpected upstream call %s %s", r.Method, r.URL.Path)
		}
	}))
	defer backend.Close()

	r := newGateway(t, backend.URL, nil, nil)
	cookie := signedCookie(t, "alice@clinic.example", "sess-42")

	req := httptest.NewRequest(http.MethodGet, "/api/patients", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != patientsJSON {
		t.Fatalf("unexpected list response: %d %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/patients/p1", nil)
	req.AddCookie(cookie)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 mirrored, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "patient not found") {
		t.Fatalf("backend message must surface as error: %s", w.Body.String())
	}
}

func TestSignin_SetsCookie(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/signin" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		io.WriteString(w, `{"access_token":"issued-token"}`)
	}))
	defer backend.Close()

	r := newGateway(t, backend.URL, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/signin",
		strings.NewReader(`{"email":"alice@clinic.example","password":"pw"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var session *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "token" {
			session = c
		}
	}
	if session == nil {
		t.Fatalf("expected session cookie to be set")
	}
	if session.Value != "issued-token" {
		t.Fatalf("unexpected cookie value: %q", session.Value)
	}
	if !session.HttpOnly || !session.Secure {
		t.Fatalf("cookie must be HttpOnly and Secure: %+v", session)
	}
	if session.SameSite != http.SameSiteLaxMode {
		t.Fatalf("cookie must be SameSite=Lax")
	}
}

func TestSignin_BackendRejection(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"message":"bad credentials"}`)
	}))
	defer backend.Close()

	r := newGateway(t, backend.URL, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/signin", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 mirrored, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "bad credentials") {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestSignin_SuccessWithoutToken(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{}`)
	}))
	defer backend.Close()

	r := newGateway(t, backend.URL, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/signin", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 when the backend omits the token, got %d", w.Code)
	}
}

func TestSignout_ClearsCookieAndRevokes(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	rev := &fakeRevoker{}
	r := newGateway(t, backend.URL, nil, rev)

	cookie := signedCookie(t, "alice@clinic.example", "sess-42")
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signout", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var cleared *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "token" {
			cleared = c
		}
	}
	if cleared == nil || cleared.Value != "" || cleared.MaxAge >= 0 {
		t.Fatalf("expected cookie cleared, got %+v", cleared)
	}

	if len(rev.tokens) != 1 || rev.tokens[0] != cookie.Value {
		t.Fatalf("expected token denylisted at signout")
	}
}

func TestSignout_DenylistCoversTokenLifetime(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	rev := &fakeRevoker{}
	r := newGateway(t, backend.URL, nil, rev)

	lifetime := 2 * time.Hour
	token, err := auth.Sign(testSecret, "alice@clinic.example", "sess-42", lifetime)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signout", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: token})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(rev.ttls) != 1 {
		t.Fatalf("expected one revocation, got %d", len(rev.ttls))
	}
	ttl := rev.ttls[0]
	if ttl < lifetime-time.Minute {
		t.Fatalf("denylist ttl %v does not cover the token's remaining lifetime %v", ttl, lifetime)
	}
	if ttl > lifetime {
		t.Fatalf("denylist ttl %v exceeds the token's lifetime %v", ttl, lifetime)
	}
}

func TestSignout_ExpiredTokenNotDenylisted(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	rev := &fakeRevoker{}
	r := newGateway(t, backend.URL, nil, rev)

	token, err := auth.Sign(testSecret, "alice@clinic.example", "sess-42", -time.Minute)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signout", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: token})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(rev.tokens) != 0 {
		t.Fatalf("expected no revocation for an already expired token, got %d", len(rev.tokens))
	}
}

func TestMe(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	r := newGateway(t, backend.URL, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(signedCookie(t, "alice@clinic.example", "sess-42"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var payload struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Email != "alice@clinic.example" {
		t.Fatalf("unexpected identity: %q", payload.Email)
	}
}
