package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"liveclass/internal/core/domain"
	"liveclass/internal/core/ports"
	apperrors "liveclass/pkg/errors"
	"liveclass/pkg/utils"
	"liveclass/pkg/validation"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Options are the connection-level knobs of the signaling server.
type Options struct {
	JWTSecret      string
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
	MessagesPerSec float64
	MessageBurst   int
}

// Server terminates signaling websockets. Every command carries an id
// the reply echoes back; events pushed by the services arrive without
// an id. Implements ports.Notifier.
type Server struct {
	sessions ports.SessionService
	speak    ports.SpeakService
	media    ports.MediaService

	opts Options

	mu    sync.RWMutex
	conns map[domain.ConnID]*client

	logger *zap.SugaredLogger
}

// client is one signaling connection with its resolved identity.
type client struct {
	id            domain.ConnID
	conn          *websocket.Conn
	participantID domain.ParticipantID
	displayName   string
	role          domain.Role
	limiter       *rate.Limiter

	writeMu   sync.Mutex
	mu        sync.Mutex
	sessionID domain.SessionID
}

// Message is one inbound signaling command.
type Message struct {
	ID      int64           `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type reply struct {
	ID      int64       `json:"id,omitempty"`
	Type    string      `json:"type"`
	OK      bool        `json:"ok"`
	Error   *errorBody  `json:"error,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

type identityClaims struct {
	DisplayName string `json:"name"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

// NewServer builds the signaling server. Services attach afterwards
// via Bind: the server is also the Notifier the services broadcast
// through, so it has to exist before they do.
func NewServer(opts Options, log *zap.Logger) *Server {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = 60 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 64 * 1024
	}
	if opts.MessagesPerSec <= 0 {
		opts.MessagesPerSec = 50
	}
	if opts.MessageBurst <= 0 {
		opts.MessageBurst = 100
	}
	return &Server{
		opts:   opts,
		conns:  make(map[domain.ConnID]*client),
		logger: log.Sugar(),
	}
}

// Bind attaches the services the dispatch loop calls into. Must run
// before the server accepts connections.
func (s *Server) Bind(sessions ports.SessionService, speak ports.SpeakService, media ports.MediaService) {
	s.sessions = sessions
	s.speak = speak
	s.media = media
}

// HandleWebSocket upgrades the request and runs the connection loop.
// Identity comes from the JWT only; connections without a valid token
// are rejected before the upgrade.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := s.authenticate(r)
	if err != nil {
		s.logger.Warnw("rejecting unauthenticated signaling connection", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	c := &client{
		id:            domain.ConnID(utils.NewConnID()),
		conn:          conn,
		participantID: domain.ParticipantID(claims.Subject),
		displayName:   claims.DisplayName,
		role:          roleFromClaim(claims.Role),
		limiter:       rate.NewLimiter(rate.Limit(s.opts.MessagesPerSec), s.opts.MessageBurst),
	}

	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()

	s.logger.Infow("signaling connection established",
		"conn_id", c.id, "participant_id", c.participantID, "role", c.role)

	conn.SetReadLimit(s.opts.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.opts.PingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan Message, 10)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
			messageChan <- msg
		}
	}()

loop:
	for {
		select {
		case msg := <-messageChan:
			if !c.limiter.Allow() {
				s.reply(c, msg.ID, msg.Type, nil, apperrors.New(apperrors.CodeBadRequest, "message rate exceeded"))
				continue
			}
			payload, err := s.handleMessage(r.Context(), c, msg)
			s.reply(c, msg.ID, msg.Type, payload, err)

		case <-pingTicker.C:
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				s.logger.Infow("error sending ping", "conn_id", c.id, "error", err)
				break loop
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("signaling read error", "conn_id", c.id, "error", err)
			}
			break loop
		}
	}

	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()

	if err := s.sessions.Disconnect(context.Background(), c.id); err != nil {
		s.logger.Infow("disconnect cleanup failed", "conn_id", c.id, "error", err)
	}
	s.logger.Infow("signaling connection closed", "conn_id", c.id, "participant_id", c.participantID)
}

func (s *Server) authenticate(r *http.Request) (*identityClaims, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
			token = auth[7:]
		}
	}
	if token == "" {
		return nil, fmt.Errorf("missing token")
	}

	claims := &identityClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.opts.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("invalid token claims")
	}
	if err := validation.ParticipantID(claims.Subject); err != nil {
		return nil, err
	}
	return claims, nil
}

func roleFromClaim(role string) domain.Role {
	if role == string(domain.RoleInstructor) {
		return domain.RoleInstructor
	}
	return domain.RoleParticipant
}

func (s *Server) handleMessage(ctx context.Context, c *client, msg Message) (interface{}, error) {
	if msg.Type == "" {
		return nil, apperrors.New(apperrors.CodeBadRequest, "message type is required")
	}

	switch msg.Type {
	case "join":
		return s.handleJoin(ctx, c, msg)
	case "leave":
		return nil, s.sessions.Leave(ctx, c.session(), c.participantID)
	case "endSession":
		return nil, s.sessions.EndSession(ctx, c.session(), c.participantID)
	case "createTransport":
		return s.handleCreateTransport(ctx, c, msg)
	case "connectTransport":
		return nil, s.handleConnectTransport(ctx, c, msg)
	case "produce":
		return s.handleProduce(ctx, c, msg)
	case "closeProducer":
		return nil, s.handleCloseProducer(ctx, c, msg)
	case "toggleProducer":
		return nil, s.handleToggleProducer(ctx, c, msg)
	case "consume":
		return s.handleConsume(ctx, c, msg)
	case "listExistingProducers":
		return s.media.ListProducers(ctx, c.session())
	case "requestToSpeak":
		return nil, s.speak.RequestToSpeak(ctx, c.session(), c.participantID)
	case "approveSpeak":
		return nil, s.handleSpeakDecision(ctx, c, msg, s.speak.Approve)
	case "denySpeak":
		return nil, s.handleSpeakDecision(ctx, c, msg, s.speak.Deny)
	case "revokeSpeak":
		return nil, s.handleSpeakDecision(ctx, c, msg, s.speak.Revoke)
	case "listSpeakRequests":
		return s.speak.ListRequests(ctx, c.session(), c.participantID)
	default:
		return nil, apperrors.New(apperrors.CodeBadRequest, fmt.Sprintf("unknown message type: %s", msg.Type))
	}
}

func (s *Server) handleJoin(ctx context.Context, c *client, msg Message) (interface{}, error) {
	var payload struct {
		SessionID   string `json:"session_id"`
		SessionKind string `json:"session_kind"`
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return nil, apperrors.New(apperrors.CodeBadRequest, "invalid join payload")
	}
	if err := validation.SessionID(payload.SessionID); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeBadRequest, "invalid session_id")
	}
	kind, err := domain.ParseSessionKind(payload.SessionKind)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeBadRequest, "invalid session_kind")
	}

	result, err := s.sessions.Join(ctx, ports.JoinParams{
		SessionID:     domain.SessionID(payload.SessionID),
		Kind:          kind,
		ParticipantID: c.participantID,
		ConnID:        c.id,
		DisplayName:   c.displayName,
		Role:          c.role,
	})
	if err != nil {
		return nil, err
	}
	c.setSession(result.SessionID)
	if result.Rejoined {
		s.closeStaleConnections(c)
	}
	return result, nil
}

// closeStaleConnections drops older sockets of the same participant in
// the same session after a rejoin. The registry already swapped the
// connection id, so their disconnect cleanup is a no-op.
func (s *Server) closeStaleConnections(current *client) {
	s.mu.RLock()
	stale := make([]*client, 0, 1)
	for _, c := range s.conns {
		if c.id != current.id && c.participantID == current.participantID && c.session() == current.session() {
			stale = append(stale, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range stale {
		s.logger.Infow("closing stale signaling connection",
			"conn_id", c.id, "participant_id", c.participantID)
		c.conn.Close()
	}
}

func (s *Server) handleCreateTransport(ctx context.Context, c *client, msg Message) (interface{}, error) {
	var payload struct {
		Direction string `json:"direction"`
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return nil, apperrors.New(apperrors.CodeBadRequest, "invalid createTransport payload")
	}
	dir := domain.TransportDirection(payload.Direction)
	switch dir {
	case domain.DirectionSend, domain.DirectionRecv, domain.DirectionBoth:
	case "":
		dir = domain.DirectionBoth
	default:
		return nil, apperrors.New(apperrors.CodeBadRequest, fmt.Sprintf("unknown direction: %s", payload.Direction))
	}
	return s.media.CreateTransport(ctx, c.session(), c.participantID, dir)
}

func (s *Server) handleConnectTransport(ctx context.Context, c *client, msg Message) error {
	var payload struct {
		TransportID string `json:"transport_id"`
		AnswerSDP   string `json:"answer_sdp"`
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return apperrors.New(apperrors.CodeBadRequest, "invalid connectTransport payload")
	}
	if payload.AnswerSDP == "" {
		return apperrors.New(apperrors.CodeBadRequest, "answer_sdp is required")
	}
	return s.media.ConnectTransport(ctx, c.session(), c.participantID,
		domain.TransportID(payload.TransportID), ports.ConnectParams{AnswerSDP: payload.AnswerSDP})
}

func (s *Server) handleProduce(ctx context.Context, c *client, msg Message) (interface{}, error) {
	var payload struct {
		TransportID string          `json:"transport_id"`
		Kind        string          `json:"kind"`
		Source      string          `json:"source"`
		TrackID     string          `json:"track_id"`
		Codec       ports.CodecInfo `json:"codec"`
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return nil, apperrors.New(apperrors.CodeBadRequest, "invalid produce payload")
	}
	kind, err := domain.ParseMediaKind(payload.Kind)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeBadRequest, "invalid kind")
	}

	producerID, err := s.media.Produce(ctx, c.session(), c.participantID,
		domain.TransportID(payload.TransportID), kind,
		ports.ProduceParams{TrackID: payload.TrackID, Codec: payload.Codec},
		domain.MediaSource(payload.Source))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"producer_id": producerID}, nil
}

func (s *Server) handleCloseProducer(ctx context.Context, c *client, msg Message) error {
	var payload struct {
		ProducerID string `json:"producer_id"`
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return apperrors.New(apperrors.CodeBadRequest, "invalid closeProducer payload")
	}
	return s.media.CloseProducer(ctx, c.session(), c.participantID, domain.ProducerID(payload.ProducerID))
}

func (s *Server) handleToggleProducer(ctx context.Context, c *client, msg Message) error {
	var payload struct {
		Kind   string `json:"kind"`
		Source string `json:"source"`
		Action string `json:"action"`
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return apperrors.New(apperrors.CodeBadRequest, "invalid toggleProducer payload")
	}
	kind, err := domain.ParseMediaKind(payload.Kind)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeBadRequest, "invalid kind")
	}
	action := ports.ToggleAction(payload.Action)
	if action != ports.ActionPause && action != ports.ActionResume {
		return apperrors.New(apperrors.CodeBadRequest, fmt.Sprintf("unknown action: %s", payload.Action))
	}
	return s.media.ToggleProducer(ctx, c.session(), c.participantID, kind, domain.MediaSource(payload.Source), action)
}

func (s *Server) handleConsume(ctx context.Context, c *client, msg Message) (interface{}, error) {
	var payload struct {
		TransportID  string                `json:"transport_id"`
		ProducerID   string                `json:"producer_id"`
		Capabilities ports.RTPCapabilities `json:"rtp_capabilities"`
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return nil, apperrors.New(apperrors.CodeBadRequest, "invalid consume payload")
	}
	return s.media.Consume(ctx, c.session(), c.participantID,
		domain.TransportID(payload.TransportID), domain.ProducerID(payload.ProducerID), payload.Capabilities)
}

func (s *Server) handleSpeakDecision(ctx context.Context, c *client, msg Message,
	decide func(context.Context, domain.SessionID, domain.ParticipantID, domain.ParticipantID) error) error {
	var payload struct {
		ParticipantID string `json:"participant_id"`
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return apperrors.New(apperrors.CodeBadRequest, "invalid payload")
	}
	if payload.ParticipantID == "" {
		return apperrors.New(apperrors.CodeBadRequest, "participant_id is required")
	}
	return decide(ctx, c.session(), c.participantID, domain.ParticipantID(payload.ParticipantID))
}

// reply sends the command response, echoing the request id.
func (s *Server) reply(c *client, id int64, msgType string, payload interface{}, err error) {
	resp := reply{ID: id, Type: msgType, OK: err == nil, Payload: payload}
	if err != nil {
		resp.Error = &errorBody{Code: string(apperrors.CodeOf(err)), Message: err.Error()}
	}
	if werr := s.write(c, resp); werr != nil {
		s.logger.Infow("failed to write reply", "conn_id", c.id, "type", msgType, "error", werr)
	}
}

// Notify implements ports.Notifier.
func (s *Server) Notify(connID domain.ConnID, eventName string, payload interface{}) {
	s.mu.RLock()
	c, ok := s.conns[connID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	if err := s.write(c, event{Type: eventName, Payload: payload}); err != nil {
		s.logger.Infow("failed to notify connection", "conn_id", connID, "event", eventName, "error", err)
	}
}

// Broadcast implements ports.Notifier.
func (s *Server) Broadcast(sessionID domain.SessionID, eventName string, payload interface{}, exclude ...domain.ConnID) {
	s.mu.RLock()
	targets := make([]*client, 0, len(s.conns))
	for _, c := range s.conns {
		if c.session() == sessionID && !contains(exclude, c.id) {
			targets = append(targets, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range targets {
		if err := s.write(c, event{Type: eventName, Payload: payload}); err != nil {
			s.logger.Infow("failed to broadcast to connection",
				"conn_id", c.id, "session_id", sessionID, "event", eventName, "error", err)
		}
	}
}

func (s *Server) write(c *client, v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	return c.conn.WriteJSON(v)
}

// ConnectionCount reports the number of live signaling connections.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func (c *client) session() domain.SessionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *client) setSession(id domain.SessionID) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

func contains(ids []domain.ConnID, id domain.ConnID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
