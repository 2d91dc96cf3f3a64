// Command ws_chat is an interactive terminal client for a running roomchat server.
// It logs in (registering the account on first use), joins a room, prints the
// replayed history and then every new message.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/roomchat/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "http://localhost:8080", "server base URL")
	user := flag.String("user", "cli-user", "username")
	password := flag.String("password", "password123", "password")
	room := flag.Int64("room", 1, "room id to join")
	flag.Parse()

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	token, err := authenticate(ctx, *addr, *user, *password)
	if err != nil {
		return err
	}

	wsURL := strings.Replace(*addr, "http", "ws", 1) + "/ws?token=" + token
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()

	if err := send(ctx, conn, proto.InboundTypeJoin, proto.JoinData{RoomID: *room}); err != nil {
		return err
	}

	fmt.Printf("Connected to %s as %s in room %d\n", *addr, *user, *room)
	fmt.Println("Type messages and press Enter to send. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, conn, *room)

	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

// authenticate logs in, registering the account if the login is refused.
func authenticate(ctx context.Context, base, user, password string) (string, error) {
	token, status, err := postAuth(ctx, base+"/api/login", user, password)
	if err != nil {
		return "", err
	}
	if status == http.StatusOK {
		return token, nil
	}

	token, status, err = postAuth(ctx, base+"/api/register", user, password)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("register %s: status %d", user, status)
	}
	return token, nil
}

func postAuth(ctx context.Context, url, user, password string) (string, int, error) {
	body, err := json.Marshal(map[string]string{"username": user, "password": password})
	if err != nil {
		return "", 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()

	var out struct {
		Token string `json:"token"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return out.Token, resp.StatusCode, nil
}

func send(ctx context.Context, conn *websocket.Conn, typ string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	return wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload})
}

type outbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var out outbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		if out.Type == proto.OutboundTypeError && out.Error != nil {
			fmt.Printf("! %s: %s\n", out.Error.Code, out.Error.Msg)
			continue
		}

		switch out.Event {
		case proto.EventNameHistory:
			var evt proto.EventHistory
			if err := json.Unmarshal(out.Data, &evt); err != nil {
				log.Printf("unmarshal history: %v", err)
				continue
			}
			fmt.Printf("--- room %d: %d earlier message(s) ---\n", evt.RoomID, len(evt.Messages))
			for _, m := range evt.Messages {
				printMessage(m)
			}
		case proto.EventNameMessage:
			var evt proto.EventMessage
			if err := json.Unmarshal(out.Data, &evt); err != nil {
				log.Printf("unmarshal message: %v", err)
				continue
			}
			printMessage(evt)
		default:
			fmt.Printf("event=%s data=%s\n", out.Event, out.Data)
		}
	}
}

func printMessage(m proto.EventMessage) {
	ts := time.UnixMilli(m.TS).Format(time.TimeOnly)
	fmt.Printf("[%s] %s: %s\n", ts, m.User, m.Text)
}

func writeLoop(ctx context.Context, conn *websocket.Conn, room int64) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if err := send(ctx, conn, proto.InboundTypeMsg, proto.MsgData{RoomID: room, Text: text}); err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}
