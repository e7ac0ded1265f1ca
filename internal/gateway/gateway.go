// Package gateway is the HTTP and WebSocket surface of the service.
//
// Clients create sessions over REST, then stream audio over a WebSocket per
// session: binary frames are audio (raw PCM, or Opus packets when the
// connection negotiated codec=opus), text frames are JSON control commands.
// Everything the core sends back travels through the [transport.Handle] the
// gateway attaches to the session; the gateway is the only place messages are
// serialized to the wire.
//
// Disconnects detach the transport without ending the session, so a client
// that reconnects within the inactivity window resumes where it left off.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/auricle/internal/archive"
	"github.com/MrWong99/auricle/internal/events"
	"github.com/MrWong99/auricle/internal/health"
	"github.com/MrWong99/auricle/internal/observe"
	"github.com/MrWong99/auricle/internal/pipeline"
	"github.com/MrWong99/auricle/internal/session"
	"github.com/MrWong99/auricle/internal/transport"
	"github.com/MrWong99/auricle/pkg/audio"
)

// readLimit caps one inbound websocket message. Generous for audio frames,
// tight enough that a hostile client cannot balloon memory.
const readLimit = 1 << 20

// FrameProcessor consumes audio frames for a session. Implemented by
// [stt.Processor].
type FrameProcessor interface {
	ProcessFrame(sessionID string, frame audio.AudioFrame) error
}

// StatsSource exposes pipeline statistics for the stats endpoint.
type StatsSource interface {
	Stats() pipeline.Stats
}

// Config wires a [Server]. Registry and Processor are required.
type Config struct {
	// Registry owns session state and transport handles.
	Registry *session.Registry

	// Processor receives converted audio frames from connection read loops.
	Processor FrameProcessor

	// Stats supplies pipeline statistics. Nil leaves the stats endpoint's
	// pipeline section empty.
	Stats StatsSource

	// Archive records session lifecycle, best-effort. Nil disables it.
	Archive archive.Store

	// Events reports publisher drop counts on the stats endpoint.
	Events *events.Bus

	// Health serves the liveness and readiness probes.
	Health *health.Handler

	// Metrics instruments the HTTP surface. Nil selects
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// SampleRate is the pipeline audio format every ingest frame is converted
	// to. Default: 16000.
	SampleRate int
}

// Server is the gateway. Build one with [New], mount [Server.Routes] on an
// http.Server.
type Server struct {
	cfg     Config
	started time.Time
}

// New creates a Server.
func New(cfg Config) *Server {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Archive == nil {
		cfg.Archive = archive.Noop{}
	}
	return &Server{cfg: cfg, started: time.Now().UTC()}
}

// Routes returns the gateway's handler: session REST, the websocket endpoint,
// health probes, and Prometheus metrics, wrapped in the tracing middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /session", s.createSession)
	mux.HandleFunc("GET /session/{id}", s.getSession)
	mux.HandleFunc("DELETE /session/{id}", s.deleteSession)
	mux.HandleFunc("GET /sessions", s.listSessions)
	mux.HandleFunc("GET /stats", s.stats)
	mux.HandleFunc("GET /ws/{session_id}", s.serveWS)
	mux.Handle("GET /metrics", promhttp.Handler())
	if s.cfg.Health != nil {
		s.cfg.Health.Register(mux)
	}

	return observe.Middleware(s.cfg.Metrics)(mux)
}

// ─── Session REST ────────────────────────────────────────────────────────────

// sessionInfo is the JSON shape for one session.
type sessionInfo struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	Status       string    `json:"status"`
	Language     string    `json:"language,omitempty"`
	MessageCount int       `json:"message_count"`
}

func toInfo(sess session.Session) sessionInfo {
	return sessionInfo{
		SessionID:    sess.ID,
		UserID:       sess.UserID,
		CreatedAt:    sess.CreatedAt,
		LastActivity: sess.LastActivity,
		Status:       string(sess.Status),
		Language:     sess.Language,
		MessageCount: sess.MessageCount,
	}
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.cfg.Registry.Create(r.URL.Query().Get("user_id"))
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "session capacity reached"})
		return
	}

	go s.archiveSession(sess)

	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": sess.ID,
		"user_id":    sess.UserID,
		"created_at": sess.CreatedAt,
	})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.cfg.Registry.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, toInfo(sess))
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.cfg.Registry.End(id) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": "ended"})
}

func (s *Server) listSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := s.cfg.Registry.List()
	infos := make([]sessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, toInfo(sess))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(infos),
		"sessions": infos,
	})
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	out := map[string]any{
		"uptime_seconds":  int64(time.Since(s.started).Seconds()),
		"active_sessions": s.cfg.Registry.Len(),
	}
	if s.cfg.Stats != nil {
		out["pipeline"] = s.cfg.Stats.Stats()
	}
	if s.cfg.Events != nil {
		out["events_dropped"] = s.cfg.Events.Dropped()
	}
	writeJSON(w, http.StatusOK, out)
}

// archiveSession records a created session with its own timeout.
func (s *Server) archiveSession(sess session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), archive.WriteTimeout)
	defer cancel()
	if err := s.cfg.Archive.SaveSession(ctx, sess); err != nil {
		slog.Warn("archive session write failed", "session_id", sess.ID, "err", err)
	}
}

// ─── WebSocket ───────────────────────────────────────────────────────────────

// controlMessage is the envelope for inbound text frames.
type controlMessage struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "session_id", sessionID, "err", err)
		return
	}
	conn.SetReadLimit(readLimit)

	// 404-equivalent for a socket that is already upgraded.
	if _, ok := s.cfg.Registry.Get(sessionID); !ok {
		_ = conn.Close(websocket.StatusPolicyViolation, "unknown session")
		return
	}

	ingest, err := newIngest(r, s.cfg.SampleRate)
	if err != nil {
		slog.Warn("websocket ingest setup failed", "session_id", sessionID, "err", err)
		_ = conn.Close(websocket.StatusPolicyViolation, "unsupported audio format")
		return
	}

	h := newHandle(conn)
	if err := s.cfg.Registry.AttachTransport(sessionID, h); err != nil {
		// Session evicted between the Get above and here.
		_ = conn.Close(websocket.StatusPolicyViolation, "unknown session")
		return
	}

	slog.Info("websocket attached",
		"session_id", sessionID,
		"codec", ingest.codec,
		"remote", r.RemoteAddr)

	s.readLoop(r, sessionID, conn, h, ingest)
}

// readLoop drives one connection until the client goes away. Frames for the
// session are processed in receipt order on this goroutine.
func (s *Server) readLoop(r *http.Request, sessionID string, conn *websocket.Conn, h *wsHandle, ingest *ingestState) {
	ctx := r.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			// Normal closure and network drop both land here. Detach so late
			// worker results are dropped silently; the session itself stays
			// alive for reconnects until the sweeper evicts it.
			h.markClosed()
			s.cfg.Registry.DetachTransport(sessionID)
			slog.Info("websocket detached",
				"session_id", sessionID,
				"reason", websocket.CloseStatus(err))
			return
		}

		switch typ {
		case websocket.MessageBinary:
			frame, derr := ingest.frame(data)
			if derr != nil {
				slog.Warn("audio frame rejected", "session_id", sessionID, "err", derr)
				continue
			}
			if perr := s.cfg.Processor.ProcessFrame(sessionID, frame); perr != nil {
				slog.Warn("frame processing failed", "session_id", sessionID, "err", perr)
			}

		case websocket.MessageText:
			s.control(sessionID, h, data)
		}
	}
}

// control dispatches one inbound JSON control message.
func (s *Server) control(sessionID string, h *wsHandle, data []byte) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(sessionID, h, "invalid control message")
		return
	}

	switch {
	case msg.Type == "command" && msg.Command == "ping":
		if err := h.Send(transport.NewPong()); err != nil {
			slog.Warn("pong send failed", "session_id", sessionID, "err", err)
		}
	default:
		s.sendError(sessionID, h, "unknown message type")
	}
}

func (s *Server) sendError(sessionID string, h *wsHandle, message string) {
	if err := h.Send(transport.NewError(message)); err != nil {
		slog.Warn("error send failed", "session_id", sessionID, "err", err)
	}
}

// ─── Ingest format ───────────────────────────────────────────────────────────

// ingestState converts inbound binary frames to the pipeline audio format:
// an optional Opus decode followed by resample/downmix. One per connection;
// the decoder carries state across packets.
type ingestState struct {
	codec    string
	rate     int
	channels int
	dec      *opusDecoder
	conv     *audio.FormatConverter
	elapsed  time.Duration
}

// newIngest reads the connection's negotiated format from query parameters.
// codec=opus fixes the source format at 48 kHz stereo; raw PCM defaults to
// the pipeline format and may override rate and channels.
func newIngest(r *http.Request, pipelineRate int) (*ingestState, error) {
	q := r.URL.Query()
	st := &ingestState{
		codec:    "pcm",
		rate:     pipelineRate,
		channels: 1,
		conv: &audio.FormatConverter{
			Target: audio.Format{SampleRate: pipelineRate, Channels: 1},
		},
	}

	if q.Get("codec") == "opus" {
		dec, err := newOpusDecoder()
		if err != nil {
			return nil, err
		}
		st.codec = "opus"
		st.rate = opusSampleRate
		st.channels = opusChannels
		st.dec = dec
		return st, nil
	}

	if v := q.Get("rate"); v != "" {
		rate, err := strconv.Atoi(v)
		if err != nil || rate <= 0 {
			return nil, errBadRate
		}
		st.rate = rate
	}
	if v := q.Get("channels"); v != "" {
		ch, err := strconv.Atoi(v)
		if err != nil || (ch != 1 && ch != 2) {
			return nil, errBadChannels
		}
		st.channels = ch
	}
	return st, nil
}

// frame converts one binary message to a pipeline-format [audio.AudioFrame].
func (st *ingestState) frame(data []byte) (audio.AudioFrame, error) {
	pcm := data
	if st.dec != nil {
		decoded, err := st.dec.decode(data)
		if err != nil {
			return audio.AudioFrame{}, err
		}
		pcm = decoded
	}

	out := st.conv.Convert(audio.AudioFrame{
		Data:       pcm,
		SampleRate: st.rate,
		Channels:   st.channels,
		Timestamp:  st.elapsed,
	})
	st.elapsed += out.Duration()
	return out, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

var (
	errBadRate     = errBad("rate")
	errBadChannels = errBad("channels")
)

type errBad string

func (e errBad) Error() string { return "gateway: invalid " + string(e) + " parameter" }

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}
