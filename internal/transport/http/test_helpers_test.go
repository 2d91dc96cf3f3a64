package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomchat/internal/auth"
	"github.com/vovakirdan/roomchat/internal/config"
	"github.com/vovakirdan/roomchat/internal/core"
	"github.com/vovakirdan/roomchat/internal/proto"
	"github.com/vovakirdan/roomchat/internal/store/sqlite"
)

type testEnv struct {
	router *gin.Engine
	server *httptest.Server
	hub    *core.Hub
	auth   *auth.Service
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.JWTSecret = "test-secret-change-me"
	if mutate != nil {
		mutate(&cfg)
	}

	st, err := sqlite.New(":memory:", 1)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	disabledLogger := zerolog.Nop()

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	}, cfg.ResponderIdentity)

	opts := core.HubOptions{MaxBodyLength: cfg.MaxBodyLength, Logger: &disabledLogger}
	if cfg.ResponderEnabled {
		opts.Responder = core.NewFixedResponder(cfg.ResponderIdentity, cfg.ResponderBody)
	}
	hub := core.NewHub(st, opts)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	router := NewRouter(hub, authService, &cfg, &disabledLogger)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	return &testEnv{router: router, server: ts, hub: hub, auth: authService}
}

func (e *testEnv) register(t *testing.T, username string) string {
	t.Helper()

	token, err := e.auth.Register(context.Background(), username, "password123")
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) createRoom(t *testing.T, token, name string) RoomResponse {
	t.Helper()

	rec := e.do(t, http.MethodPost, "/api/rooms", token, CreateRoomRequest{Name: name})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create room: status %d: %s", rec.Code, rec.Body.String())
	}
	var room RoomResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &room); err != nil {
		t.Fatalf("decode room: %v", err)
	}
	return room
}

func (e *testEnv) dial(ctx context.Context, t *testing.T, token string) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(e.server.URL, "http", "ws", 1) + "/ws?token=" + token
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

type outbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func send(ctx context.Context, t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()

	in := proto.Inbound{Type: typ}
	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		in.Data = payload
	}
	if err := wsjson.Write(ctx, conn, in); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func readOutbound(ctx context.Context, t *testing.T, conn *websocket.Conn) outbound {
	t.Helper()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var out outbound
	if err := wsjson.Read(ctx, conn, &out); err != nil {
		t.Fatalf("read outbound: %v", err)
	}
	return out
}

func readMessage(ctx context.Context, t *testing.T, conn *websocket.Conn) proto.EventMessage {
	t.Helper()

	out := readOutbound(ctx, t, conn)
	if out.Type != proto.OutboundTypeEvent || out.Event != proto.EventNameMessage {
		t.Fatalf("expected message event, got %+v", out)
	}
	var msg proto.EventMessage
	if err := json.Unmarshal(out.Data, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	return msg
}

func readHistory(ctx context.Context, t *testing.T, conn *websocket.Conn) proto.EventHistory {
	t.Helper()

	out := readOutbound(ctx, t, conn)
	if out.Type != proto.OutboundTypeEvent || out.Event != proto.EventNameHistory {
		t.Fatalf("expected history event, got %+v", out)
	}
	var history proto.EventHistory
	if err := json.Unmarshal(out.Data, &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	return history
}

func readError(ctx context.Context, t *testing.T, conn *websocket.Conn) *proto.Error {
	t.Helper()

	out := readOutbound(ctx, t, conn)
	if out.Type != proto.OutboundTypeError || out.Error == nil {
		t.Fatalf("expected error, got %+v", out)
	}
	return out.Error
}
