package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/tidecast/tidecast/internal/auth"
	"github.com/tidecast/tidecast/internal/config"
	"github.com/tidecast/tidecast/internal/middleware"
	"github.com/tidecast/tidecast/internal/proto"
	"github.com/tidecast/tidecast/internal/registry"
)

func setupServer(t *testing.T) *httptest.Server {
	t.Helper()
	Registry = registry.New([]byte("test-secret"), "")

	r := chi.NewRouter()
	r.Get("/health", HealthCheck)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sessions/open", OpenSession)
		r.Post("/sessions/close", CloseSession)
		r.Get("/sessions/channel", ChannelWS)
		r.Get("/sessions/{id}/watch", WatchWS)
		r.Post("/admin/login", AdminLogin)
		if AdminTokens != nil {
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin(AdminTokens))
				r.Get("/admin/sessions", ListSessions)
				r.Delete("/admin/sessions/{id}", ForceCloseSession)
			})
		}
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func openSession(t *testing.T, srv *httptest.Server, name string) openResponse {
	t.Helper()
	body, _ := json.Marshal(openRequest{Origin: "https://example.com", Name: name})
	resp, err := http.Post(srv.URL+"/api/v1/sessions/open", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("open request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("open returned status %d", resp.StatusCode)
	}
	var out openResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode open response: %v", err)
	}
	return out
}

func dialWS(t *testing.T, ctx context.Context, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("websocket dial %s: %v", url, err)
	}
	return conn
}

func sendClient(t *testing.T, ctx context.Context, conn *websocket.Conn, msg proto.ClientMessage) {
	t.Helper()
	data, err := proto.EncodeClient(msg)
	if err != nil {
		t.Fatalf("encode client message: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write client message: %v", err)
	}
}

func TestOpenSession_HTTP(t *testing.T) {
	srv := setupServer(t)
	out := openSession(t, srv, "alice@box|KEY")

	if len(out.SessionID) != registry.SessionIDLength {
		t.Errorf("unexpected session id %q", out.SessionID)
	}
	if out.URL != "https://example.com/s/"+out.SessionID {
		t.Errorf("unexpected url %q", out.URL)
	}
	if Registry.Lookup(out.SessionID) == nil {
		t.Error("expected session registered")
	}
}

func TestOpenSession_EmptyOrigin(t *testing.T) {
	srv := setupServer(t)
	body, _ := json.Marshal(openRequest{Origin: "", Name: "alice"})
	resp, err := http.Post(srv.URL+"/api/v1/sessions/open", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("open request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestOpenSession_Collision(t *testing.T) {
	srv := setupServer(t)
	openSession(t, srv, "RECONNECT:fixedid001|alice")

	body, _ := json.Marshal(openRequest{Origin: "https://example.com", Name: "RECONNECT:fixedid001|mallory"})
	resp, err := http.Post(srv.URL+"/api/v1/sessions/open", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("open request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409, got %d", resp.StatusCode)
	}
}

func TestCloseSession_HTTP(t *testing.T) {
	srv := setupServer(t)
	out := openSession(t, srv, "alice")

	body, _ := json.Marshal(closeRequest{SessionID: out.SessionID, Token: "bogus"})
	resp, _ := http.Post(srv.URL+"/api/v1/sessions/close", "application/json", bytes.NewReader(body))
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad token, got %d", resp.StatusCode)
	}

	body, _ = json.Marshal(closeRequest{SessionID: out.SessionID, Token: out.Token})
	resp, _ = http.Post(srv.URL+"/api/v1/sessions/close", "application/json", bytes.NewReader(body))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if Registry.Lookup(out.SessionID) != nil {
		t.Error("expected session removed after close")
	}
}

func TestChannelWS_BadToken(t *testing.T) {
	srv := setupServer(t)
	out := openSession(t, srv, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, srv.URL+"/api/v1/sessions/channel")
	defer conn.CloseNow()

	sendClient(t, ctx, conn, proto.Hello(out.SessionID+",forged"))
	_, _, err := conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusCode(4401) {
		t.Errorf("expected close code 4401, got %v", err)
	}
}

func TestChannelWS_UnknownSession(t *testing.T) {
	srv := setupServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, srv.URL+"/api/v1/sessions/channel")
	defer conn.CloseNow()

	token := registry.MintToken([]byte("test-secret"), "ghost12345")
	sendClient(t, ctx, conn, proto.Hello("ghost12345,"+token))
	_, _, err := conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusCode(4404) {
		t.Errorf("expected close code 4404, got %v", err)
	}
}

func TestChannelWS_FirstMessageNotHello(t *testing.T) {
	srv := setupServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, srv.URL+"/api/v1/sessions/channel")
	defer conn.CloseNow()

	sendClient(t, ctx, conn, proto.Pong(1))
	_, _, err := conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusCode(4400) {
		t.Errorf("expected close code 4400, got %v", err)
	}
}

// TestChannelAndWatch exercises the full path: a host attaches, creates a
// shell and streams a chunk; a viewer sees the mirrored events and its input
// comes back to the host through the update channel.
func TestChannelAndWatch(t *testing.T) {
	srv := setupServer(t)
	out := openSession(t, srv, "alice@box|KEY")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	host := dialWS(t, ctx, srv.URL+"/api/v1/sessions/channel")
	defer host.CloseNow()
	sendClient(t, ctx, host, proto.Hello(out.SessionID+","+out.Token))
	sendClient(t, ctx, host, proto.CreatedShell{ID: 1, X: 10, Y: 20})

	// A viewer joining after the shell exists gets it replayed on attach.
	waitForShell(t, out.SessionID)
	viewer := dialWS(t, ctx, srv.URL+"/api/v1/sessions/"+out.SessionID+"/watch")
	defer viewer.CloseNow()

	_, raw, err := viewer.Read(ctx)
	if err != nil {
		t.Fatalf("viewer read: %v", err)
	}
	event, err := proto.DecodeClient(raw)
	if err != nil {
		t.Fatalf("decode viewer event: %v", err)
	}
	created, ok := event.(proto.CreatedShell)
	if !ok || created.ID != 1 || created.X != 10 || created.Y != 20 {
		t.Fatalf("unexpected replay event: %+v", event)
	}

	sendClient(t, ctx, host, proto.Data{ID: 1, Seq: 0, Data: []byte("hello\r\n")})

	_, raw, err = viewer.Read(ctx)
	if err != nil {
		t.Fatalf("viewer read: %v", err)
	}
	event, err = proto.DecodeClient(raw)
	if err != nil {
		t.Fatalf("decode viewer event: %v", err)
	}
	data, ok := event.(proto.Data)
	if !ok || data.ID != 1 || string(data.Data) != "hello\r\n" {
		t.Fatalf("unexpected viewer event: %+v", event)
	}

	// Viewer keystrokes travel to the host over the update channel.
	input, err := proto.EncodeViewer(proto.Input{ID: 1, Data: []byte("ls\n")})
	if err != nil {
		t.Fatalf("encode viewer input: %v", err)
	}
	if err := viewer.Write(ctx, websocket.MessageText, input); err != nil {
		t.Fatalf("viewer write: %v", err)
	}

	for {
		_, raw, err := host.Read(ctx)
		if err != nil {
			t.Fatalf("host read: %v", err)
		}
		msg, err := proto.DecodeServer(raw)
		if err != nil {
			t.Fatalf("decode host message: %v", err)
		}
		// Skip interleaved pings and syncs.
		if in, ok := msg.(proto.Input); ok {
			if in.ID != 1 || string(in.Data) != "ls\n" {
				t.Fatalf("unexpected input: %+v", in)
			}
			break
		}
	}
}

func waitForShell(t *testing.T, sessionID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sess := Registry.Lookup(sessionID)
		if sess != nil && len(sess.Shells()) > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for the shell to register")
}

func TestWatchWS_UnknownSession(t *testing.T) {
	srv := setupServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, srv.URL+"/api/v1/sessions/nosuch/watch")
	defer conn.CloseNow()

	_, _, err := conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusCode(4404) {
		t.Errorf("expected close code 4404, got %v", err)
	}
}

func TestAdminAPI(t *testing.T) {
	hash, err := auth.HashPassword("operator")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	config.Cfg.AdminPasswordHash = hash
	t.Cleanup(func() { config.Cfg.AdminPasswordHash = "" })

	AdminTokens, err = auth.NewTokenIssuer()
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	t.Cleanup(func() { AdminTokens = nil })

	srv := setupServer(t)
	out := openSession(t, srv, "alice@box|cpuX|4096MB|Linux 5.15|KEY")

	// Wrong password is rejected.
	body, _ := json.Marshal(loginRequest{Password: "wrong"})
	resp, _ := http.Post(srv.URL+"/api/v1/admin/login", "application/json", bytes.NewReader(body))
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong password, got %d", resp.StatusCode)
	}

	// Login and list sessions.
	body, _ = json.Marshal(loginRequest{Password: "operator"})
	resp, err = http.Post(srv.URL+"/api/v1/admin/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	var login map[string]string
	json.NewDecoder(resp.Body).Decode(&login)
	resp.Body.Close()
	if login["token"] == "" {
		t.Fatal("expected a bearer token")
	}

	// The list endpoint requires the token.
	resp, _ = http.Get(srv.URL + "/api/v1/admin/sessions")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/admin/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+login["token"])
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	var list struct {
		Devices []deviceResponse `json:"devices"`
	}
	json.NewDecoder(resp.Body).Decode(&list)
	resp.Body.Close()
	if len(list.Devices) != 1 {
		t.Fatalf("expected 1 device, got %d", len(list.Devices))
	}
	dev := list.Devices[0]
	if dev.ID != out.SessionID || dev.Hostname != "box" || dev.MemoryMB != 4096 || dev.Key != "KEY" {
		t.Errorf("unexpected device: %+v", dev)
	}

	// Force close through the admin API.
	req, _ = http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/admin/sessions/"+out.SessionID, nil)
	req.Header.Set("Authorization", "Bearer "+login["token"])
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("force close: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if Registry.Lookup(out.SessionID) != nil {
		t.Error("expected session removed")
	}
}

func TestHealthCheck(t *testing.T) {
	srv := setupServer(t)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}
