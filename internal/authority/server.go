// Package authority hosts the matchmaking/session-authority side of the
// signaling event surface named in spec.md §6: it pairs queued
// participants, runs the P2P probe gate, mints session-assignment JWTs,
// relays webrtc_signal/player_action/frame_digest envelopes between the
// two sides of a session, and drives idempotent cleanup into the group
// history log. The HTTP/WebSocket signaling server itself is an external
// collaborator in production; this package is the library such a server
// would import, plus a self-contained net/http.Handler so the whole
// pipeline is exercisable from a single `syncd serve` process.
//
// Registry shape (connections keyed by participant, session lookup by id)
// is grounded on the teacher's relay.SessionManager
// (internal/relay/sessions.go); the notify-then-close cleanup ordering on
// the teacher's relay.Server.GracefulShutdown (internal/relay/server.go).
package authority

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/gymsync/syncd/internal/authtoken"
	"github.com/gymsync/syncd/internal/config"
	"github.com/gymsync/syncd/internal/frame"
	"github.com/gymsync/syncd/internal/matchmaker"
	"github.com/gymsync/syncd/internal/metrics"
	"github.com/gymsync/syncd/internal/session"
	"github.com/gymsync/syncd/internal/store"
	"github.com/gymsync/syncd/internal/transport/signaling"
)

const (
	readLimitBytes = 64 * 1024
	writeTimeout   = 5 * time.Second
)

// participantConn is one live WebSocket connection, before or after it has
// been assigned to a session.
type participantConn struct {
	mu            sync.Mutex
	conn          *websocket.Conn
	participantID string
	sessionID     frame.SessionID
	index         frame.ParticipantIndex
}

func (p *participantConn) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return p.conn.Write(writeCtx, websocket.MessageText, data)
}

// sessionState is the authority's bookkeeping for one in-flight session,
// wrapping a session.Session with the probe round and connection set.
type sessionState struct {
	sess     *session.Session
	sceneID  string
	startsAt time.Time

	mu            sync.Mutex
	participants  map[string]*participantConn // keyed by participantID
	probeID       string
	probeReady    map[string]bool
	probeReported map[string]bool   // participantID -> has submitted a probe_result
	probeResults  map[string]*int64 // participantID -> RTT millis, nil = reported but no RTT
	probeStarted  bool
}

// Server is the matchmaking/session authority.
type Server struct {
	log     *slog.Logger
	cfg     *config.SyncConfig
	queue   *matchmaker.Queue
	tracker *session.Tracker
	store   *store.Store
	metrics *metrics.Metrics
	signKey *ecdsa.PrivateKey

	mu       sync.Mutex
	sessions map[frame.SessionID]*sessionState
	conns    map[string]*participantConn // keyed by participantID, pre- and post-assignment

	mux *http.ServeMux
}

// New constructs a Server. strategy and signKey are required; store and m
// may be nil (group-history logging and metrics become no-ops).
func New(cfg *config.SyncConfig, strategy matchmaker.Strategy, st *store.Store, m *metrics.Metrics, signKey *ecdsa.PrivateKey, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		log:      log,
		cfg:      cfg,
		queue:    matchmaker.NewQueue(strategy, rate.Limit(1), 5),
		tracker:  session.NewTracker(log),
		store:    st,
		metrics:  m,
		signKey:  signKey,
		sessions: make(map[frame.SessionID]*sessionState),
		conns:    make(map[string]*participantConn),
	}
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("authority: accept failed", "err", err)
		return
	}
	conn.SetReadLimit(readLimitBytes)
	ctx := r.Context()

	_, data, err := conn.Read(ctx)
	if err != nil {
		conn.Close(websocket.StatusProtocolError, "expected join_game")
		return
	}
	var join signaling.JoinGame
	if err := json.Unmarshal(data, &join); err != nil || join.Type != signaling.TypeJoinGame || join.ParticipantID == "" {
		conn.Close(websocket.StatusProtocolError, "malformed join_game")
		return
	}

	pc := &participantConn{conn: conn, participantID: join.ParticipantID}
	s.mu.Lock()
	s.conns[join.ParticipantID] = pc
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, join.ParticipantID)
		s.mu.Unlock()
		s.handleDisconnect(pc)
	}()

	if err := s.queue.Enqueue(ctx, matchmaker.MatchCandidate{
		ParticipantID:    join.ParticipantID,
		EnqueueTimestamp: time.Now(),
	}); err != nil {
		s.log.Warn("authority: enqueue rejected", "participant", join.ParticipantID, "err", err)
		conn.Close(websocket.StatusPolicyViolation, "rate limited")
		return
	}
	s.tryMatch(ctx, join.Scene)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		s.dispatch(ctx, pc, data)
	}
}

func (s *Server) dispatch(ctx context.Context, pc *participantConn, data []byte) {
	var env signaling.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.log.Warn("authority: malformed envelope", "err", err)
		return
	}
	switch env.Type {
	case signaling.TypeWebRTCSignal:
		var msg signaling.WebRTCSignal
		if json.Unmarshal(data, &msg) == nil {
			s.relay(ctx, frame.SessionID(msg.SessionID), pc.participantID, msg)
		}
	case signaling.TypePlayerAction:
		var msg signaling.PlayerAction
		if json.Unmarshal(data, &msg) == nil {
			s.relay(ctx, frame.SessionID(msg.SessionID), pc.participantID, msg)
		}
	case signaling.TypeFrameDigest:
		var msg signaling.FrameDigestMsg
		if json.Unmarshal(data, &msg) == nil {
			s.relay(ctx, frame.SessionID(msg.SessionID), pc.participantID, msg)
		}
	case signaling.TypeProbeReady:
		var msg signaling.ProbeReady
		if json.Unmarshal(data, &msg) == nil {
			s.onProbeReady(ctx, pc, msg)
		}
	case signaling.TypeProbeResult:
		var msg signaling.ProbeResult
		if json.Unmarshal(data, &msg) == nil {
			s.onProbeResult(ctx, pc, msg)
		}
	case signaling.TypeEndGame:
		var msg signaling.EndGame
		if json.Unmarshal(data, &msg) == nil {
			if err := s.endSession(frame.SessionID(msg.SessionID), msg.Reason); err != nil {
				s.log.Debug("authority: end_game for unknown session", "session", msg.SessionID)
			}
		}
	default:
		s.log.Debug("authority: unhandled message type", "type", env.Type)
	}
}

// relay forwards msg verbatim to every other participant in the session.
func (s *Server) relay(ctx context.Context, sid frame.SessionID, fromParticipant string, msg any) {
	s.mu.Lock()
	st, ok := s.sessions[sid]
	s.mu.Unlock()
	if !ok {
		return
	}
	st.mu.Lock()
	targets := make([]*participantConn, 0, len(st.participants)-1)
	for pid, pc := range st.participants {
		if pid != fromParticipant {
			targets = append(targets, pc)
		}
	}
	st.mu.Unlock()
	for _, pc := range targets {
		if err := pc.writeJSON(ctx, msg); err != nil {
			s.log.Warn("authority: relay failed", "to", pc.participantID, "err", err)
		}
	}
}

// tryMatch drains as many ready groups as the matchmaker strategy can form
// and starts the probe round for each.
func (s *Server) tryMatch(ctx context.Context, scene string) {
	for _, group := range s.queue.Tick() {
		s.startSession(ctx, scene, group)
	}
}

func (s *Server) startSession(ctx context.Context, scene string, group []matchmaker.MatchCandidate) {
	sid := frame.SessionID(uuid.NewString())
	participantIDs := make([]string, len(group))
	for i, c := range group {
		participantIDs[i] = c.ParticipantID
	}

	st := &sessionState{
		sceneID:      scene,
		startsAt:     time.Now(),
		participants: make(map[string]*participantConn, len(group)),
		probeID:       uuid.NewString(),
		probeReady:    make(map[string]bool, len(group)),
		probeReported: make(map[string]bool, len(group)),
		probeResults:  make(map[string]*int64, len(group)),
	}
	st.sess = session.New(string(sid), participantIDs, session.Cleanup{
		NotifyParticipants: func(reason string) {
			st.mu.Lock()
			conns := make([]*participantConn, 0, len(st.participants))
			for _, pc := range st.participants {
				conns = append(conns, pc)
			}
			st.mu.Unlock()
			for _, pc := range conns {
				_ = pc.writeJSON(ctx, signaling.EndGame{Type: signaling.TypeEndGame, SessionID: string(sid), Reason: reason})
			}
		},
		RemoveFromGroupHistory: func() {
			if s.store == nil {
				return
			}
			if err := s.store.AppendSession(store.Entry{
				SessionID:      string(sid),
				SceneID:        scene,
				ParticipantIDs: participantIDs,
				EndedReason:    "cleanup",
				StartedAt:      st.startsAt,
				EndedAt:        time.Now(),
			}); err != nil {
				s.log.Warn("authority: append session history failed", "session", sid, "err", err)
			}
		},
		UpdateTracker: func(participantID string) {
			s.tracker.Transition(participantID, session.ParticipantIdle)
		},
	}, s.log)
	st.sess.Transition(session.SessionMatched)

	s.mu.Lock()
	s.sessions[sid] = st
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.SessionsActive.Inc()
	}

	seed := rand.Uint32()
	for i, c := range group {
		idx := frame.ParticipantIndex(i)
		s.mu.Lock()
		pc, ok := s.conns[c.ParticipantID]
		s.mu.Unlock()
		if !ok {
			continue
		}
		pc.mu.Lock()
		pc.sessionID = sid
		pc.index = idx
		pc.mu.Unlock()
		st.mu.Lock()
		st.participants[c.ParticipantID] = pc
		st.probeResults[c.ParticipantID] = nil
		st.mu.Unlock()

		s.tracker.Transition(c.ParticipantID, session.ParticipantInWaitroom)
		s.tracker.Transition(c.ParticipantID, session.ParticipantValidatingP2P)

		var token string
		if s.signKey != nil {
			t, err := authtoken.Issue(s.signKey, string(sid), c.ParticipantID, idx)
			if err != nil {
				s.log.Warn("authority: issue assignment token failed", "err", err)
			} else {
				token = t
			}
		}
		_ = pc.writeJSON(ctx, signaling.PlayerAssigned{
			Type:        signaling.TypePlayerAssigned,
			PlayerIndex: uint16(idx),
			SessionID:   string(sid),
			Seed:        seed,
			Token:       token,
		})
	}

	st.sess.Transition(session.SessionValidating)
	candidateIDs := append([]string(nil), participantIDs...)
	s.broadcastToSession(ctx, st, signaling.ProbePrepare{
		Type:       signaling.TypeProbePrepare,
		ProbeID:    st.probeID,
		Candidates: candidateIDs,
	})
}

func (s *Server) broadcastToSession(ctx context.Context, st *sessionState, msg any) {
	st.mu.Lock()
	conns := make([]*participantConn, 0, len(st.participants))
	for _, pc := range st.participants {
		conns = append(conns, pc)
	}
	st.mu.Unlock()
	for _, pc := range conns {
		_ = pc.writeJSON(ctx, msg)
	}
}

func (s *Server) onProbeReady(ctx context.Context, pc *participantConn, msg signaling.ProbeReady) {
	pc.mu.Lock()
	sid := pc.sessionID
	pc.mu.Unlock()
	s.mu.Lock()
	st, ok := s.sessions[sid]
	s.mu.Unlock()
	if !ok || st.probeID != msg.ProbeID {
		return
	}

	st.mu.Lock()
	st.probeReady[pc.participantID] = true
	allReady := len(st.probeReady) >= len(st.participants)
	alreadyStarted := st.probeStarted
	if allReady && !alreadyStarted {
		st.probeStarted = true
	}
	st.mu.Unlock()
	if !allReady || alreadyStarted {
		return
	}
	s.broadcastToSession(ctx, st, signaling.ProbeStart{Type: signaling.TypeProbeStart, ProbeID: msg.ProbeID})
}

func (s *Server) onProbeResult(ctx context.Context, pc *participantConn, msg signaling.ProbeResult) {
	pc.mu.Lock()
	sid := pc.sessionID
	pc.mu.Unlock()
	s.mu.Lock()
	st, ok := s.sessions[sid]
	s.mu.Unlock()
	if !ok || st.probeID != msg.ProbeID {
		return
	}

	st.mu.Lock()
	st.probeResults[pc.participantID] = msg.RTTMillis
	st.probeReported[pc.participantID] = true
	complete := len(st.probeReported) >= len(st.participants)
	results := make(map[string]*int64, len(st.probeResults))
	for k, v := range st.probeResults {
		results[k] = v
	}
	st.mu.Unlock()
	if !complete {
		return
	}
	s.decideProbe(ctx, sid, st, results)
}

// decideProbe applies the §4.8 None-RTT-means-rejected rule plus the
// optional maxP2PRTTms ceiling, once every participant has reported.
func (s *Server) decideProbe(ctx context.Context, sid frame.SessionID, st *sessionState, results map[string]*int64) {
	var maxRTT int64
	for _, r := range results {
		if r == nil {
			s.rejectSession(sid, st, "probe_rejected_no_rtt")
			return
		}
		if *r > maxRTT {
			maxRTT = *r
		}
	}
	if s.cfg != nil && s.cfg.MaxP2PRTTms != nil && maxRTT > *s.cfg.MaxP2PRTTms {
		s.rejectSession(sid, st, "probe_rejected_high_rtt")
		return
	}

	st.sess.Transition(session.SessionPlaying)
	st.mu.Lock()
	for pid := range st.participants {
		s.tracker.Transition(pid, session.ParticipantInGame)
	}
	st.mu.Unlock()
}

func (s *Server) rejectSession(sid frame.SessionID, st *sessionState, reason string) {
	st.sess.ScheduleCleanup(reason, 0)
	s.mu.Lock()
	delete(s.sessions, sid)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.SessionsActive.Dec()
		s.metrics.SessionsEnded.WithLabelValues(reason).Inc()
	}
}

func (s *Server) endSession(sid frame.SessionID, reason string) error {
	s.mu.Lock()
	st, ok := s.sessions[sid]
	if ok {
		delete(s.sessions, sid)
	}
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	st.sess.ScheduleCleanup(reason, 0)
	if s.metrics != nil {
		s.metrics.SessionsActive.Dec()
		s.metrics.SessionsEnded.WithLabelValues(reason).Inc()
	}
	return nil
}

// handleDisconnect schedules a delayed cleanup so a brief reconnect window
// doesn't immediately tear the session down (spec.md §4.11's reconnect
// grace period, mirrored here at the authority level).
func (s *Server) handleDisconnect(pc *participantConn) {
	pc.mu.Lock()
	sid := pc.sessionID
	pid := pc.participantID
	pc.mu.Unlock()
	if sid == "" {
		return
	}
	s.mu.Lock()
	st, ok := s.sessions[sid]
	s.mu.Unlock()
	if !ok {
		return
	}

	delay := 10 * time.Second
	if s.cfg != nil && s.cfg.ReconnectTimeoutMs > 0 {
		delay = time.Duration(s.cfg.ReconnectTimeoutMs) * time.Millisecond
	}
	otherIdx := pc.index
	s.broadcastToSession(context.Background(), st, signaling.PartnerDisconnected{
		Type:              signaling.TypePartnerDisconnected,
		SessionID:         string(sid),
		DisconnectedIndex: uint16(otherIdx),
	})
	s.log.Info("authority: participant disconnected", "participant", pid, "session", sid, "grace", delay)
	st.sess.ScheduleCleanup("peer_disconnected", delay)
}

// ErrNotFound is returned when an operation references an unknown session.
var ErrNotFound = fmt.Errorf("authority: session not found")
