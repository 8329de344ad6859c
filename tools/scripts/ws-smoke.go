// Package main provides a CI-friendly WebSocket smoke test for Campfire.
//
// It validates:
//   - handshake + subprotocol selection
//   - hello/ack session establishment
//   - room join echo + initial room_state replay
//   - send -> ack -> room_state fanout to another client
//   - load_more round trip (loading + has_more envelopes)
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/coder/websocket"

	v1 "campfire/shared/contracts/chat/v1"
)

const (
	subprotocol  = "campfire.chat.v1"
	maxReadBytes = 1 << 20 // 1MiB
)

type smokeClient struct {
	name  string
	conn  *websocket.Conn
	inbox chan v1.Envelope
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send")
		roomKey = flag.String("room", "texas", "Public room to join")
		text    = flag.String("text", "hello campfire", "Message body to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	alice := mustDial(ctx, "alice", *wsURL, *origin)
	defer alice.close()
	bob := mustDial(ctx, "bob", *wsURL, *origin)
	defer bob.close()

	step(alice.hello(ctx, *timeout, "u-alice", "Alice"), "alice hello")
	step(bob.hello(ctx, *timeout, "u-bob", "Bob"), "bob hello")

	step(alice.join(ctx, *timeout, *roomKey), "alice join")
	step(bob.join(ctx, *timeout, *roomKey), "bob join")

	// Both sides replay the current window on join.
	_, err := alice.await(ctx, *timeout, v1.TypeRoomState)
	step(err, "alice initial room_state")
	_, err = bob.await(ctx, *timeout, v1.TypeRoomState)
	step(err, "bob initial room_state")

	step(alice.send(ctx, *timeout, *roomKey, *text), "alice send")

	// The live feed must deliver the new message to both windows.
	step(awaitBody(ctx, *timeout, alice, *text), "alice sees own message")
	step(awaitBody(ctx, *timeout, bob, *text), "bob sees alice's message")

	step(alice.loadMore(ctx, *timeout, *roomKey), "alice load_more")
	_, err = alice.await(ctx, *timeout, v1.TypeHasMore)
	step(err, "alice has_more after load_more")

	fmt.Println("ws-smoke: OK")
}

func step(err error, name string) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "ws-smoke: %s: %v\n", name, err)
		os.Exit(1)
	}
}

func mustDial(ctx context.Context, name, wsURL, origin string) *smokeClient {
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
		HTTPHeader:   map[string][]string{"Origin": {origin}},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ws-smoke: dial %s: %v\n", name, err)
		os.Exit(1)
	}
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{name: name, conn: conn, inbox: make(chan v1.Envelope, 64)}
	go c.readLoop(ctx)
	return c
}

func (c *smokeClient) close() {
	_ = c.conn.Close(websocket.StatusNormalClosure, "bye")
}

func (c *smokeClient) readLoop(ctx context.Context) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			close(c.inbox)
			return
		}
		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		select {
		case c.inbox <- env:
		default:
		}
	}
}

func (c *smokeClient) write(ctx context.Context, timeout time.Duration, typ string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env := v1.Envelope{V: v1.Version, Type: typ, TS: time.Now().UTC(), Payload: raw}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.conn.Write(wctx, websocket.MessageText, b)
}

func (c *smokeClient) await(ctx context.Context, timeout time.Duration, typ string) (v1.Envelope, error) {
	deadline := time.After(timeout)
	for {
		select {
		case <-ctx.Done():
			return v1.Envelope{}, ctx.Err()
		case <-deadline:
			return v1.Envelope{}, fmt.Errorf("%s: timeout waiting for %s", c.name, typ)
		case env, ok := <-c.inbox:
			if !ok {
				return v1.Envelope{}, fmt.Errorf("%s: connection closed", c.name)
			}
			if env.Type == v1.TypeError {
				var p v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &p)
				return v1.Envelope{}, fmt.Errorf("%s: server error %s: %s", c.name, p.Code, p.Message)
			}
			if env.Type == typ {
				return env, nil
			}
		}
	}
}

func (c *smokeClient) hello(ctx context.Context, timeout time.Duration, userID, name string) error {
	if err := c.write(ctx, timeout, v1.TypeHello, v1.HelloPayload{
		User: v1.User{ID: userID, DisplayName: name},
	}); err != nil {
		return err
	}
	_, err := c.await(ctx, timeout, v1.TypeHelloAck)
	return err
}

func (c *smokeClient) join(ctx context.Context, timeout time.Duration, roomKey string) error {
	if err := c.write(ctx, timeout, v1.TypeRoomJoin, v1.RoomJoinPayload{RoomKey: roomKey}); err != nil {
		return err
	}
	_, err := c.await(ctx, timeout, v1.TypeRoomJoin)
	return err
}

func (c *smokeClient) send(ctx context.Context, timeout time.Duration, roomKey, body string) error {
	if err := c.write(ctx, timeout, v1.TypeMessageSend, v1.MessageSendPayload{RoomKey: roomKey, Body: body}); err != nil {
		return err
	}
	_, err := c.await(ctx, timeout, v1.TypeMessageAck)
	return err
}

func (c *smokeClient) loadMore(ctx context.Context, timeout time.Duration, roomKey string) error {
	return c.write(ctx, timeout, v1.TypeLoadMore, v1.LoadMorePayload{RoomKey: roomKey})
}

// awaitBody waits for a room_state whose window contains a message with body.
func awaitBody(ctx context.Context, timeout time.Duration, c *smokeClient, body string) error {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%s: timeout waiting for body %q", c.name, body)
		}
		env, err := c.await(ctx, remaining, v1.TypeRoomState)
		if err != nil {
			return err
		}
		var p v1.RoomStatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			continue
		}
		for _, m := range p.Messages {
			if m.Body == body {
				return nil
			}
		}
	}
}
