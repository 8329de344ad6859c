package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"campfire/cmd/internal/chat"
	v1 "campfire/shared/contracts/chat/v1"
)

const (
	wsSubprotocolV1 = "campfire.chat.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// Gateway is the WebSocket entrypoint for Campfire.
//
// It enforces origin policy, subprotocol selection, rate limits, and
// heartbeats, and bridges sessions to per-room conversation stores: every
// joined room gets its own store whose message window, loading flag, and
// has-more flag are observed and forwarded to the client as envelopes.
type Gateway struct {
	log   *slog.Logger
	store chat.BackingStore
	svc   *chat.Service

	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks: Accept authorizes same-host
	// origins by default; cross-origin requires OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration

	pageSize int
}

// NewGateway constructs a gateway with secure defaults.
func NewGateway(log *slog.Logger, store chat.BackingStore, svc *chat.Service) *Gateway {
	if log == nil {
		log = slog.Default()
	}

	g := &Gateway{log: log, store: store, svc: svc}

	g.originRequired = envBoolWS("CAMPFIRE_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("CAMPFIRE_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("CAMPFIRE_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("CAMPFIRE_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("CAMPFIRE_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("CAMPFIRE_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("CAMPFIRE_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("CAMPFIRE_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("CAMPFIRE_WS_RATE_WINDOW", rateLimitWindow)

	g.pageSize = envIntWS("CAMPFIRE_PAGE_SIZE", chat.DefaultPageSize)

	return g
}

// openRoom is one joined room inside a session: its conversation store plus
// the observer unsubscribes torn down on leave/disconnect.
type openRoom struct {
	conv   *chat.ConversationStore
	unsubs []func()
}

func (r *openRoom) close() {
	for _, u := range r.unsubs {
		u()
	}
	r.conv.Cleanup()
}

// session is the per-connection state owned by the read loop.
type session struct {
	client *Client
	user   chat.Author

	mu    sync.Mutex
	rooms map[string]*openRoom
}

func (s *session) hello() bool { return s.user.ID != "" }

func (s *session) room(key string) *openRoom {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[key]
}

func (s *session) put(key string, r *openRoom) (ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rooms) >= maxOpenRooms {
		return false
	}
	s.rooms[key] = r
	return true
}

func (s *session) remove(key string) *openRoom {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rooms[key]
	delete(s.rooms, key)
	return r
}

func (s *session) drain() []*openRoom {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*openRoom, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r)
	}
	s.rooms = map[string]*openRoom{}
	return out
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the loop.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{wsSubprotocolV1},
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	sessionID := uuid.NewString()
	sess := &session{
		client: NewClient(sessionID, g.sendQueueSize),
		rooms:  make(map[string]*openRoom),
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.Send.
	// Every open conversation store is cleaned up before the client closes,
	// so no observer callback outlives the session.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			for _, room := range sess.drain() {
				room.close()
			}
			sess.client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-sess.client.Done():
				return
			case env := <-sess.client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-sess.client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, sess.client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(ctx, sess.client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, sess.client, "bad_envelope", err.Error())
			continue readLoop
		}

		switch env.Type {
		case v1.TypeHello:
			if err := g.onHello(ctx, sess, env); err != nil {
				g.trySendError(ctx, sess.client, "hello_failed", err.Error())
				shutdown(websocket.StatusPolicyViolation, "hello failed")
				break readLoop
			}

		case v1.TypeRoomJoin:
			if err := g.onRoomJoin(ctx, sess, env); err != nil {
				g.trySendError(ctx, sess.client, "join_failed", err.Error())
				continue readLoop
			}

		case v1.TypeRoomLeave:
			if err := g.onRoomLeave(sess, env); err != nil {
				g.trySendError(ctx, sess.client, "leave_failed", err.Error())
				continue readLoop
			}

		case v1.TypeLoadMore:
			if err := g.onLoadMore(sess, env); err != nil {
				g.trySendError(ctx, sess.client, "load_more_failed", err.Error())
				continue readLoop
			}

		case v1.TypeMessageSend:
			if err := g.onMessageSend(ctx, sess, env); err != nil {
				g.trySendError(ctx, sess.client, "send_failed", err.Error())
				continue readLoop
			}

		case v1.TypeMessageEdit:
			if err := g.onMessageEdit(ctx, sess, env); err != nil {
				g.trySendError(ctx, sess.client, "edit_failed", err.Error())
				continue readLoop
			}

		case v1.TypeMessageDelete:
			if err := g.onMessageDelete(ctx, sess, env); err != nil {
				g.trySendError(ctx, sess.client, "delete_failed", err.Error())
				continue readLoop
			}

		default:
			g.trySendError(ctx, sess.client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- handlers ----

func (g *Gateway) onHello(ctx context.Context, sess *session, env v1.Envelope) error {
	var p v1.HelloPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if strings.TrimSpace(p.User.ID) == "" {
		return errors.New("missing user id")
	}

	sess.user = chat.Author{
		ID:          strings.TrimSpace(p.User.ID),
		DisplayName: strings.TrimSpace(p.User.DisplayName),
		AvatarURL:   strings.TrimSpace(p.User.AvatarURL),
	}

	ackPayload, _ := json.Marshal(v1.HelloAckPayload{SessionID: sess.client.SessionID})
	if !g.enqueue(ctx, sess.client, newEnvelope(v1.TypeHelloAck, ackPayload, time.Now().UTC())) {
		return errors.New("backpressure: hello_ack")
	}
	return nil
}

func (g *Gateway) onRoomJoin(ctx context.Context, sess *session, env v1.Envelope) error {
	if !sess.hello() {
		return errors.New("hello first")
	}

	var p v1.RoomJoinPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	room, err := resolveRoom(sess.user.ID, p)
	if err != nil {
		return err
	}

	if sess.room(room.Key()) != nil {
		// Already open; just re-echo.
		return g.sendJoined(ctx, sess, room)
	}

	conv := chat.NewConversationStore(g.log, g.store, room, chat.WithPageSize(g.pageSize))
	or := &openRoom{conv: conv}

	key := room.Key()
	or.unsubs = append(or.unsubs,
		conv.Subscribe(func(msgs []chat.Message) {
			payload, _ := json.Marshal(v1.RoomStatePayload{RoomKey: key, Messages: toWireMessages(msgs)})
			g.enqueue(ctx, sess.client, newEnvelope(v1.TypeRoomState, payload, time.Now().UTC()))
		}),
		conv.SubscribeToLoading(func(loading bool) {
			payload, _ := json.Marshal(v1.LoadingPayload{RoomKey: key, Loading: loading})
			g.enqueue(ctx, sess.client, newEnvelope(v1.TypeLoading, payload, time.Now().UTC()))
		}),
		conv.SubscribeToHasMore(func(hasMore bool) {
			payload, _ := json.Marshal(v1.HasMorePayload{RoomKey: key, HasMore: hasMore})
			g.enqueue(ctx, sess.client, newEnvelope(v1.TypeHasMore, payload, time.Now().UTC()))
		}),
	)

	if !sess.put(key, or) {
		or.close()
		return errors.New("too many open rooms")
	}

	g.log.Info("ws.room.join", "session_id", sess.client.SessionID, "room", key)
	return g.sendJoined(ctx, sess, room)
}

func (g *Gateway) sendJoined(ctx context.Context, sess *session, room chat.RoomID) error {
	payload, _ := json.Marshal(v1.RoomJoinedPayload{RoomKey: room.Key(), Personal: room.IsPersonal()})
	if !g.enqueue(ctx, sess.client, newEnvelope(v1.TypeRoomJoin, payload, time.Now().UTC())) {
		return errors.New("backpressure: join echo")
	}
	return nil
}

func (g *Gateway) onRoomLeave(sess *session, env v1.Envelope) error {
	var p v1.RoomLeavePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	room := sess.remove(strings.TrimSpace(p.RoomKey))
	if room == nil {
		return errors.New("room not open")
	}
	room.close()
	g.log.Info("ws.room.leave", "session_id", sess.client.SessionID, "room", p.RoomKey)
	return nil
}

func (g *Gateway) onLoadMore(sess *session, env v1.Envelope) error {
	var p v1.LoadMorePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	room := sess.room(strings.TrimSpace(p.RoomKey))
	if room == nil {
		return errors.New("room not open")
	}
	room.conv.LoadMore()
	return nil
}

func (g *Gateway) onMessageSend(ctx context.Context, sess *session, env v1.Envelope) error {
	if !sess.hello() {
		return errors.New("hello first")
	}

	var p v1.MessageSendPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	room := sess.room(strings.TrimSpace(p.RoomKey))
	if room == nil {
		return errors.New("room not open")
	}

	msg, err := g.svc.Send(ctx, room.conv.Room(), sess.user, p.Body, p.AttachmentURL)
	if err != nil {
		return err
	}

	ackPayload, _ := json.Marshal(v1.MessageAckPayload{
		RoomKey:     p.RoomKey,
		MessageID:   msg.ID,
		OrderingKey: msg.OrderingKey,
	})
	if !g.enqueue(ctx, sess.client, newEnvelope(v1.TypeMessageAck, ackPayload, time.Now().UTC())) {
		return errors.New("backpressure: ack")
	}
	return nil
}

func (g *Gateway) onMessageEdit(ctx context.Context, sess *session, env v1.Envelope) error {
	var p v1.MessageEditPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	room := sess.room(strings.TrimSpace(p.RoomKey))
	if room == nil {
		return errors.New("room not open")
	}
	_, err := g.svc.Edit(ctx, room.conv.Room(), p.MessageID, p.Body)
	return err
}

func (g *Gateway) onMessageDelete(ctx context.Context, sess *session, env v1.Envelope) error {
	var p v1.MessageDeletePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	room := sess.room(strings.TrimSpace(p.RoomKey))
	if room == nil {
		return errors.New("room not open")
	}
	return g.svc.Delete(ctx, room.conv.Room(), p.MessageID)
}

// resolveRoom maps a join payload onto the RoomID variant.
func resolveRoom(userID string, p v1.RoomJoinPayload) (chat.RoomID, error) {
	roomKey := strings.TrimSpace(p.RoomKey)
	peerID := strings.TrimSpace(p.PeerID)

	switch {
	case roomKey != "" && peerID != "":
		return chat.RoomID{}, errors.New("set either room_key or peer_id, not both")
	case peerID != "":
		return chat.PersonalRoom(userID, peerID)
	case roomKey != "":
		return chat.PublicRoom(roomKey)
	default:
		return chat.RoomID{}, errors.New("missing room_key or peer_id")
	}
}

func toWireMessages(msgs []chat.Message) []v1.Message {
	out := make([]v1.Message, 0, len(msgs))
	for _, m := range msgs {
		body := m.Body
		if m.Deleted {
			// Tombstone: the entry keeps its position, the body is hidden.
			body = ""
		}
		out = append(out, v1.Message{
			ID: m.ID,
			Author: v1.User{
				ID:          m.Author.ID,
				DisplayName: m.Author.DisplayName,
				AvatarURL:   m.Author.AvatarURL,
			},
			Body:          body,
			AttachmentURL: m.AttachmentURL,
			OrderingKey:   m.OrderingKey,
			Deleted:       m.Deleted,
			Category:      m.Category,
			Title:         m.Title,
		})
	}
	return out
}

// ---- send helpers ----

func (g *Gateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	_ = g.enqueue(ctx, client, newEnvelope(v1.TypeError, p, time.Now().UTC()))
}

func (g *Gateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		// Drop rather than block an observer callback.
		return false
	}
}

// ---- envelope IO ----

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      uuid.NewString(),
		TS:      ts,
		Payload: payload,
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	// JSON decode errors are typically returned by json.Unmarshal, not
	// conn.Read. This fallback exists for robustness when error strings are
	// propagated.
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host.
	// Keep this strict: only hosts extracted from the allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}

	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
