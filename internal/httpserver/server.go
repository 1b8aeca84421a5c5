// Package httpserver exposes the engine's HTTP surface: session CRUD, SSE
// streaming in both protocols, health, and metrics.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tandem-dev/tandem/internal/metrics"
	"github.com/tandem-dev/tandem/pkg/apperrors"
	"github.com/tandem-dev/tandem/pkg/encoder"
	"github.com/tandem-dev/tandem/pkg/session"
	"github.com/tandem-dev/tandem/pkg/stream"
)

// Protocol query parameter values.
const (
	ProtocolPassthrough = "passthrough"
	ProtocolA2A         = "a2a"
)

// Server hosts the engine API.
type Server struct {
	registry     *session.Registry
	metrics      *metrics.Metrics
	log          logr.Logger
	defaultModel string

	passthrough *encoder.Passthrough
	a2a         *encoder.A2ATranslator

	srv *http.Server
}

// New builds the server and its routes.
func New(addr string, registry *session.Registry, m *metrics.Metrics, defaultModel string, log logr.Logger) *Server {
	s := &Server{
		registry:     registry,
		metrics:      m,
		log:          log.WithName("http"),
		defaultModel: defaultModel,
		passthrough:  encoder.NewPassthrough(log),
		a2a:          encoder.NewA2ATranslator(log),
	}

	router := mux.NewRouter()
	router.HandleFunc("/api/sessions", s.handleCreateSession).Methods("POST")
	router.HandleFunc("/api/sessions", s.handleListSessions).Methods("GET")
	router.HandleFunc("/api/sessions/{id}/messages", s.handleSendMessage).Methods("POST")
	router.HandleFunc("/api/sessions/{id}", s.handleCloseSession).Methods("DELETE")
	router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until Shutdown or a listener failure.
func (s *Server) Start() error {
	s.log.Info("listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type createSessionRequest struct {
	Prompt       string `json:"prompt"`
	Model        string `json:"model,omitempty"`
	Mode         string `json:"mode,omitempty"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
	WorkDir      string `json:"workDir,omitempty"`
	ResumeID     string `json:"resumeId,omitempty"`
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

// pickEncoder resolves the protocol query parameter, defaulting to
// passthrough.
func (s *Server) pickEncoder(r *http.Request) (encoder.Encoder, string, error) {
	name := r.URL.Query().Get("protocol")
	if name == "" {
		name = ProtocolPassthrough
	}
	switch name {
	case ProtocolPassthrough:
		return s.passthrough, name, nil
	case ProtocolA2A:
		return s.a2a, name, nil
	default:
		return nil, name, apperrors.New(apperrors.ErrCodeInvalidInput,
			fmt.Sprintf("unknown protocol %q", name), nil)
	}
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	enc, protocolName, err := s.pickEncoder(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperrors.New(apperrors.ErrCodeInvalidInput, "decode request body", err))
		return
	}
	if req.Model == "" {
		req.Model = s.defaultModel
	}

	sess, err := s.registry.Create(r.Context(), session.CreateOptions{
		Prompt:       req.Prompt,
		Model:        req.Model,
		Mode:         session.Mode(req.Mode),
		SystemPrompt: req.SystemPrompt,
		WorkDir:      req.WorkDir,
		ResumeID:     req.ResumeID,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.SessionsCreated.WithLabelValues(string(sess.Mode())).Inc()

	s.streamTurn(w, r, sess.ID(), enc, protocolName)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	enc, protocolName, err := s.pickEncoder(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperrors.New(apperrors.ErrCodeInvalidInput, "decode request body", err))
		return
	}
	if req.Text == "" {
		s.writeError(w, apperrors.New(apperrors.ErrCodeInvalidInput, "text is required", nil))
		return
	}

	if err := s.registry.Send(r.Context(), id, req.Text); err != nil {
		if apperrors.Code(err) == apperrors.ErrCodeSessionNotFound {
			// SSE clients for an unknown session get one error frame and
			// nothing else; no lifecycle events are fabricated.
			sw := encoder.NewSSEWriter(w)
			_ = sw.WriteEvent("error", map[string]string{
				"sessionId": id,
				"code":      apperrors.ErrCodeSessionNotFound,
				"message":   err.Error(),
			})
			return
		}
		s.writeError(w, err)
		return
	}

	s.streamTurn(w, r, id, enc, protocolName)
}

// streamTurn runs one turn end to end: registry stream, event pipeline,
// protocol encoding onto the response.
func (s *Server) streamTurn(w http.ResponseWriter, r *http.Request, id string, enc encoder.Encoder, protocolName string) {
	sess, err := s.registry.Get(id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	turn, err := s.registry.Stream(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	processor := stream.NewProcessor(s.log)
	events := s.instrument(r.Context(), processor.Run(r.Context(), turn))

	sw := encoder.NewSSEWriter(w)
	sw.OnWrite = func(name string) {
		s.metrics.EventsEmitted.WithLabelValues(protocolName, name).Inc()
	}

	start := time.Now()
	encodeErr := enc.Encode(r.Context(), sw, sess.Snapshot(), events)

	outcome := "completed"
	if turn.Err() != nil || encodeErr != nil {
		outcome = "error"
	}
	s.metrics.TurnDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if encodeErr != nil {
		s.log.Error(encodeErr, "turn encoding aborted", "session", id)
	}
}

// instrument counts interrupts and turn errors as events pass through.
// The forwarding goroutine exits when ctx is cancelled, even with no
// reader left on the returned channel.
func (s *Server) instrument(ctx context.Context, in <-chan stream.Event) <-chan stream.Event {
	out := make(chan stream.Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-in:
				if !ok {
					return
				}
				switch e := ev.(type) {
				case stream.QuestionPendingEvent:
					s.metrics.InterruptsRaised.WithLabelValues("question").Inc()
				case stream.PlanPendingEvent:
					s.metrics.InterruptsRaised.WithLabelValues("plan").Inc()
				case stream.ErrorEvent:
					s.metrics.TurnErrors.WithLabelValues(apperrors.Code(e.Err)).Inc()
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.registry.Close(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": s.registry.List(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error(err, "write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := apperrors.Code(err)
	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrCodeSessionNotFound:
		status = http.StatusNotFound
	case apperrors.ErrCodeInvalidInput:
		status = http.StatusBadRequest
	case apperrors.ErrCodeSessionClosed:
		status = http.StatusConflict
	}
	s.writeJSON(w, status, map[string]string{
		"code":    code,
		"message": err.Error(),
	})
}
