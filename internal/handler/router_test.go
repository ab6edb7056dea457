package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	model "github.com/zhouzirui/z-tavern/client/internal/model/character"
	"github.com/zhouzirui/z-tavern/client/internal/service/api"
	authService "github.com/zhouzirui/z-tavern/client/internal/service/auth"
	characterService "github.com/zhouzirui/z-tavern/client/internal/service/character"
	"github.com/zhouzirui/z-tavern/client/internal/state"
	"github.com/zhouzirui/z-tavern/client/internal/storage"
)

// remote 模拟远端 API。
func remote() http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(api chi.Router) {
		api.Post("/auth/guest", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"success":true,"token":"guest-token","trialCount":"3"}`))
		})
		api.Post("/auth/login", func(w http.ResponseWriter, req *http.Request) {
			var creds struct {
				Username string `json:"username"`
				Password string `json:"password"`
			}
			_ = json.NewDecoder(req.Body).Decode(&creds)
			if creds.Password != "secret" {
				_, _ = w.Write([]byte(`{"success":false,"message":"用户名或密码错误"}`))
				return
			}
			_, _ = w.Write([]byte(`{"success":true,"token":"user-token","userInfo":{"id":1,"username":"alice"}}`))
		})
		api.Get("/characters", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`[{"id":1,"name":"哈利波特"},{"id":2,"name":"孙悟空"}]`))
		})
		api.Get("/characters/{id}", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`null`))
		})
		api.Get("/chat/history/{id}", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`[]`))
		})
		api.Post("/chat/character/send", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"reply":"俺老孙来也"}`))
		})
	})
	return r
}

type shell struct {
	handler   http.Handler
	authState *state.AuthStore
	chatState *state.ChatStore
}

func setupShell(t *testing.T) *shell {
	t.Helper()
	srv := httptest.NewServer(remote())
	t.Cleanup(srv.Close)

	kv := storage.NewMemoryStore()
	transport := api.New(api.Options{BaseURL: srv.URL + "/api"}, kv)
	authClient := authService.NewClient(transport, kv)
	characters := characterService.NewClient(transport, model.NewMemoryStore(model.Seed()))
	authState := state.NewAuthStore(authClient)
	chatState := state.NewChatStore(characters, nil)

	h, err := NewRouter(Deps{
		Auth:       authClient,
		AuthState:  authState,
		ChatState:  chatState,
		Characters: characters,
		Heartbeat:  time.Hour,
	})
	if err != nil {
		t.Fatalf("NewRouter err: %v", err)
	}
	return &shell{handler: h, authState: authState, chatState: chatState}
}

func (s *shell) do(method, path string, body any) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	s.handler.ServeHTTP(resp, req)
	return resp
}

func expectRedirect(t *testing.T, resp *httptest.ResponseRecorder, location string) {
	t.Helper()
	if resp.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d: %s", resp.Code, resp.Body.String())
	}
	if got := resp.Header().Get("Location"); got != location {
		t.Fatalf("expected redirect to %s, got %s", location, got)
	}
}

func TestShellTableIsValid(t *testing.T) {
	table, err := ShellTable()
	if err != nil {
		t.Fatalf("ShellTable err: %v", err)
	}
	if _, ok := table.Resolve("/home/voice/start"); !ok {
		t.Fatal("voice action must be registered")
	}
	for _, rt := range table.Routes() {
		if strings.HasPrefix(rt.Path, "/home/") && !rt.RequiresAuth {
			t.Fatalf("home action %s must require auth", rt.Path)
		}
	}
}

func TestUnguardedEndpoints(t *testing.T) {
	s := setupShell(t)

	if resp := s.do(http.MethodGet, "/healthz", nil); resp.Code != http.StatusOK {
		t.Fatalf("expected healthz 200, got %d", resp.Code)
	}
	expectRedirect(t, s.do(http.MethodGet, "/no/such/page", nil), "/login")
}

func TestLoggedOutIsSentToLogin(t *testing.T) {
	s := setupShell(t)

	expectRedirect(t, s.do(http.MethodGet, "/home", nil), "/login")
	expectRedirect(t, s.do(http.MethodPost, "/home/send", map[string]string{"message": "hi"}), "/login")

	resp := s.do(http.MethodGet, "/login", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected login view, got %d", resp.Code)
	}
	resp = s.do(http.MethodGet, "/", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected root view, got %d", resp.Code)
	}
}

func TestGuestSessionFlow(t *testing.T) {
	s := setupShell(t)

	resp := s.do(http.MethodPost, "/login/guest", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("guest login failed: %d %s", resp.Code, resp.Body.String())
	}
	snap := s.authState.Snapshot()
	if snap.Mode != state.ModeGuest || snap.TrialCount != 3 {
		t.Fatalf("unexpected auth state: %+v", snap)
	}

	expectRedirect(t, s.do(http.MethodGet, "/login", nil), "/home")

	resp = s.do(http.MethodGet, "/home", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected home view, got %d", resp.Code)
	}
	if got := len(s.chatState.Snapshot().Characters); got != 2 {
		t.Fatalf("expected characters to be loaded, got %d", got)
	}

	resp = s.do(http.MethodPost, "/home/send", map[string]string{"message": "hi"})
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 without a character, got %d", resp.Code)
	}

	resp = s.do(http.MethodPost, "/home/select", map[string]int64{"characterId": 2})
	if resp.Code != http.StatusOK {
		t.Fatalf("select failed: %d %s", resp.Code, resp.Body.String())
	}
	resp = s.do(http.MethodPost, "/home/send", map[string]string{"message": "你好"})
	if resp.Code != http.StatusOK {
		t.Fatalf("send failed: %d %s", resp.Code, resp.Body.String())
	}
	transcript := s.chatState.Snapshot().Transcript
	if len(transcript) != 3 || transcript[2].Text != "俺老孙来也" {
		t.Fatalf("unexpected transcript: %+v", transcript)
	}

	resp = s.do(http.MethodPost, "/home/select", map[string]int64{"characterId": 99})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown character, got %d", resp.Code)
	}

	resp = s.do(http.MethodPost, "/home/voice/start", nil)
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a recognizer, got %d", resp.Code)
	}

	resp = s.do(http.MethodPost, "/home/logout", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("logout failed: %d", resp.Code)
	}
	if s.authState.Mode() != state.ModeLoggedOut || s.chatState.Snapshot().Selected != nil {
		t.Fatal("logout must clear auth and chat state")
	}
	expectRedirect(t, s.do(http.MethodGet, "/home", nil), "/login")
}

func TestPasswordLogin(t *testing.T) {
	s := setupShell(t)

	resp := s.do(http.MethodPost, "/login/password", map[string]string{"username": "alice", "password": "wrong"})
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "用户名或密码错误") {
		t.Fatalf("expected remote message, got %s", resp.Body.String())
	}
	if snap := s.authState.Snapshot(); snap.Error == "" || snap.Loading {
		t.Fatalf("unexpected auth state after failure: %+v", snap)
	}

	resp = s.do(http.MethodPost, "/login/password", map[string]string{"username": "", "password": "x"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing username, got %d", resp.Code)
	}

	resp = s.do(http.MethodPost, "/login/password", map[string]string{"username": "alice", "password": "secret"})
	if resp.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", resp.Code, resp.Body.String())
	}
	snap := s.authState.Snapshot()
	if snap.Mode != state.ModeAuthenticated || snap.User == nil || snap.User.Username != "alice" || snap.Error != "" {
		t.Fatalf("unexpected auth state: %+v", snap)
	}
	expectRedirect(t, s.do(http.MethodPost, "/login/guest", nil), "/home")
}

func TestEventStreamSendsSnapshots(t *testing.T) {
	s := setupShell(t)
	if resp := s.do(http.MethodPost, "/login/guest", nil); resp.Code != http.StatusOK {
		t.Fatalf("guest login failed: %d", resp.Code)
	}

	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/home/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("events request err: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type: %s", ct)
	}

	reader := bufio.NewReader(resp.Body)
	readEvent := func() string {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read event: %v", err)
			}
			if strings.HasPrefix(line, "data: ") {
				return line
			}
		}
	}

	if first := readEvent(); !strings.Contains(first, `"transcript":[]`) {
		t.Fatalf("unexpected initial snapshot: %s", first)
	}

	s.chatState.SelectCharacter(context.Background(), model.Character{ID: 1, Name: "哈利波特"})
	if next := readEvent(); !strings.Contains(next, "哈利波特") {
		t.Fatalf("expected selection in stream, got %s", next)
	}
}
