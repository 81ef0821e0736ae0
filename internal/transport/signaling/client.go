package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/gymsync/syncd/internal/frame"
)

// ErrAuthRejected is returned when the relay rejects the handshake with 401.
var ErrAuthRejected = errors.New("signaling: relay rejected authentication (401)")

const (
	heartbeatInterval = 15 * time.Second
	writeTimeout      = 5 * time.Second
	maxReconnectDelay = 10 * time.Second
)

// Handlers are the callbacks a Client dispatches decoded envelopes to. Any
// field left nil drops that message type silently.
type Handlers struct {
	OnPlayerAssigned      func(PlayerAssigned)
	OnWebRTCSignal        func(WebRTCSignal)
	OnPlayerAction        func(PlayerAction)
	OnFrameDigest         func(FrameDigestMsg)
	OnPartnerDisconnected func(PartnerDisconnected)
	OnEndGame             func(EndGame)
	OnProbePrepare        func(ProbePrepare)
	OnProbeStart          func(ProbeStart)
	OnProbeResult         func(ProbeResult)
	OnStateChange         func(state string, err error)
}

// Client is an outbound WebSocket client connecting one participant to the
// signaling relay. Shape (Run/connectAndServe/heartbeatLoop, exponential
// reconnect backoff, envelope-type dispatch switch) is grounded directly on
// the teacher's ws.Client.
type Client struct {
	URL           string
	Token         string
	Scene         string
	ParticipantID string

	Handlers Handlers

	conn *websocket.Conn
	mu   sync.Mutex
	log  *slog.Logger
}

// New constructs a signaling Client. log may be nil (uses slog.Default).
func New(url, token, scene, participantID string, handlers Handlers, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		URL:           url,
		Token:         token,
		Scene:         scene,
		ParticipantID: participantID,
		Handlers:      handlers,
		log:           log,
	}
}

// Run connects to the relay and dispatches messages until ctx is cancelled,
// automatically reconnecting with exponential backoff on disconnect.
func (c *Client) Run(ctx context.Context) error {
	c.notifyState("connecting", nil)
	backoff := NewBackoff(500*time.Millisecond, maxReconnectDelay)
	for {
		connected, err := c.connectAndServe(ctx)
		if ctx.Err() != nil {
			c.notifyState("disconnected", ctx.Err())
			return ctx.Err()
		}
		if isAuthError(err) {
			c.notifyState("auth_failed", err)
			return ErrAuthRejected
		}
		if connected {
			backoff.Reset()
		}
		delay := backoff.Next()
		c.notifyState("disconnected", err)
		c.log.Warn("signaling: disconnected, reconnecting", "err", err, "delay", delay)
		select {
		case <-ctx.Done():
			c.notifyState("disconnected", ctx.Err())
			return ctx.Err()
		case <-time.After(delay):
		}
		c.notifyState("connecting", nil)
	}
}

func (c *Client) notifyState(state string, err error) {
	if c.Handlers.OnStateChange != nil {
		c.Handlers.OnStateChange(state, err)
	}
}

func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "401")
}

func (c *Client) connectAndServe(ctx context.Context) (connected bool, err error) {
	opts := &websocket.DialOptions{HTTPHeader: make(map[string][]string)}
	if c.Token != "" {
		opts.HTTPHeader.Set("Authorization", "Bearer "+c.Token)
	}

	conn, _, dialErr := websocket.Dial(ctx, c.URL, opts)
	if dialErr != nil {
		return false, fmt.Errorf("signaling: dial: %w", dialErr)
	}
	conn.SetReadLimit(64 * 1024)
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer conn.CloseNow()
	connected = true

	if err := c.writeJSON(ctx, JoinGame{Type: TypeJoinGame, Scene: c.Scene, ParticipantID: c.ParticipantID}); err != nil {
		return connected, fmt.Errorf("signaling: join_game: %w", err)
	}

	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	go c.heartbeatLoop(hbCtx)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return connected, fmt.Errorf("signaling: read: %w", err)
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Warn("signaling: malformed envelope", "err", err)
		return
	}

	switch env.Type {
	case TypePlayerAssigned:
		var msg PlayerAssigned
		if json.Unmarshal(data, &msg) == nil && c.Handlers.OnPlayerAssigned != nil {
			c.Handlers.OnPlayerAssigned(msg)
		}
	case TypeWebRTCSignal:
		var msg WebRTCSignal
		if json.Unmarshal(data, &msg) == nil && c.Handlers.OnWebRTCSignal != nil {
			c.Handlers.OnWebRTCSignal(msg)
		}
	case TypePlayerAction:
		var msg PlayerAction
		if json.Unmarshal(data, &msg) == nil && c.Handlers.OnPlayerAction != nil {
			c.Handlers.OnPlayerAction(msg)
		}
	case TypeFrameDigest:
		var msg FrameDigestMsg
		if json.Unmarshal(data, &msg) == nil && c.Handlers.OnFrameDigest != nil {
			c.Handlers.OnFrameDigest(msg)
		}
	case TypePartnerDisconnected:
		var msg PartnerDisconnected
		if json.Unmarshal(data, &msg) == nil && c.Handlers.OnPartnerDisconnected != nil {
			c.Handlers.OnPartnerDisconnected(msg)
		}
	case TypeEndGame:
		var msg EndGame
		if json.Unmarshal(data, &msg) == nil && c.Handlers.OnEndGame != nil {
			c.Handlers.OnEndGame(msg)
		}
	case TypeProbePrepare:
		var msg ProbePrepare
		if json.Unmarshal(data, &msg) == nil && c.Handlers.OnProbePrepare != nil {
			c.Handlers.OnProbePrepare(msg)
		}
	case TypeProbeStart:
		var msg ProbeStart
		if json.Unmarshal(data, &msg) == nil && c.Handlers.OnProbeStart != nil {
			c.Handlers.OnProbeStart(msg)
		}
	case TypeProbeResult:
		var msg ProbeResult
		if json.Unmarshal(data, &msg) == nil && c.Handlers.OnProbeResult != nil {
			c.Handlers.OnProbeResult(msg)
		}
	default:
		c.log.Debug("signaling: unhandled message type", "type", env.Type)
	}
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeJSON(ctx, Envelope{Type: "heartbeat"}); err != nil {
				return
			}
		}
	}
}

// SendWebRTCSignal relays one SDP offer/answer or ICE candidate to the
// session partner.
func (c *Client) SendWebRTCSignal(ctx context.Context, sig WebRTCSignal) error {
	sig.Type = TypeWebRTCSignal
	return c.writeJSON(ctx, sig)
}

// SendPlayerAction is the fallback input path used while the P2P channel
// isn't open.
func (c *Client) SendPlayerAction(ctx context.Context, sessionID string, index frame.ParticipantIndex, action frame.Action, f frame.Number) error {
	return c.writeJSON(ctx, PlayerAction{
		Type:      TypePlayerAction,
		SessionID: sessionID,
		Index:     uint16(index),
		Action:    int64(action),
		Frame:     uint32(f),
	})
}

// SendFrameDigest is the fallback hash-exchange path used while the P2P
// channel isn't open.
func (c *Client) SendFrameDigest(ctx context.Context, sessionID string, index frame.ParticipantIndex, f frame.Number, digest []byte) error {
	return c.writeJSON(ctx, FrameDigestMsg{
		Type:      TypeFrameDigest,
		SessionID: sessionID,
		Index:     uint16(index),
		Frame:     uint32(f),
		Digest:    digest,
	})
}

// SendProbeReady acknowledges readiness during the Probe Coordinator's
// prepare phase.
func (c *Client) SendProbeReady(ctx context.Context, probeID string) error {
	return c.writeJSON(ctx, ProbeReady{Type: TypeProbeReady, ProbeID: probeID})
}

// SendEndGame terminates a session from the client side.
func (c *Client) SendEndGame(ctx context.Context, sessionID, reason string) error {
	return c.writeJSON(ctx, EndGame{Type: TypeEndGame, SessionID: sessionID, Reason: reason})
}

func (c *Client) writeJSON(ctx context.Context, v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("signaling: not connected")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
