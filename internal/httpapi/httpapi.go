// Package httpapi exposes the orchestrator and the proposal HITL gate
// over HTTP: a chat-completions endpoint that renders the streamed event
// sequence as SSE (or buffers it into a single JSON response), and the
// approve/deploy/rollback endpoints that drive a Proposal through its
// state machine.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aethercore/aether/internal/convo"
	"github.com/aethercore/aether/internal/errs"
	"github.com/aethercore/aether/internal/orchestrator"
	"github.com/aethercore/aether/internal/proposal"
	"github.com/aethercore/aether/internal/router"
	"github.com/aethercore/aether/internal/thinking"
	"github.com/aethercore/aether/pkg/events"
)

// StreamingOrchestrator is satisfied by both *orchestrator.Orchestrator
// (monolith mode) and *remotearch.Client (distributed mode); Server is
// wired against whichever one cmd/orchestratord selects at startup.
type StreamingOrchestrator interface {
	Stream(ctx context.Context, req orchestrator.Request) iter.Seq2[events.Event, error]
}

// Server wires the orchestrator's streaming endpoint and the proposal
// lifecycle endpoints onto one mux. When Config.Webhook is set, Mux also
// mounts that handler at POST /hooks/controller.
type Server struct {
	orch      StreamingOrchestrator
	proposals proposal.Store
	deployer  proposal.Deployer
	webhook   http.Handler
	logger    *slog.Logger
}

// Config wires a Server's dependencies.
type Config struct {
	Orchestrator StreamingOrchestrator
	Proposals    proposal.Store
	Deployer     proposal.Deployer
	Webhook      http.Handler
}

func New(cfg Config) *Server {
	return &Server{
		orch:      cfg.Orchestrator,
		proposals: cfg.Proposals,
		deployer:  cfg.Deployer,
		webhook:   cfg.Webhook,
		logger:    slog.Default().With("component", "httpapi"),
	}
}

// Mux builds the HTTP routing table. Callers embed it in their own
// http.Server (see cmd/orchestratord) so timeouts, TLS and listener setup
// stay at the call site.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /v1/chat/completions", s.handleChat)
	mux.HandleFunc("POST /v1/proposals/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /v1/proposals/{id}/reject", s.handleReject)
	mux.HandleFunc("POST /v1/proposals/{id}/deploy", s.handleDeploy)
	mux.HandleFunc("POST /v1/proposals/{id}/rollback", s.handleRollback)
	mux.HandleFunc("GET /v1/proposals", s.handleListProposals)
	if s.webhook != nil {
		mux.Handle("POST /hooks/controller", s.webhook)
	}
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// chatMessage mirrors one entry of the inbound messages array.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages       []chatMessage `json:"messages"`
	Stream         bool          `json:"stream"`
	Model          string        `json:"model"`
	ConversationID string        `json:"conversation_id"`
	Agent          string        `json:"agent"`
	Preset         string        `json:"preset"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	userMessage, systemMessage := splitMessages(req.Messages)
	orchReq := orchestrator.Request{
		ConversationID: req.ConversationID,
		UserMessage:    userMessage,
		SystemMessage:  systemMessage,
		ExplicitAgent:  router.Name(req.Agent),
		Preset:         router.Name(req.Preset),
	}

	if req.Stream {
		s.streamChat(w, r.Context(), orchReq)
		return
	}
	s.bufferedChat(w, r.Context(), orchReq)
}

// splitMessages pulls the last user message as the turn's content and
// concatenates any system messages; the orchestrator itself only takes
// one of each per Request.
func splitMessages(msgs []chatMessage) (userMessage, systemMessage string) {
	for _, m := range msgs {
		switch m.Role {
		case string(convo.RoleSystem):
			if systemMessage != "" {
				systemMessage += "\n"
			}
			systemMessage += m.Content
		case string(convo.RoleUser):
			userMessage = m.Content
		}
	}
	return userMessage, systemMessage
}

func (s *Server) streamChat(w http.ResponseWriter, ctx context.Context, req orchestrator.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for ev, err := range s.orch.Stream(ctx, req) {
		if err != nil {
			s.logger.Error("chat stream failed", "error", err)
			writeSSE(w, events.Event{Type: events.TypeError, Error: errs.Sanitized(err)})
			flusher.Flush()
			break
		}
		writeSSE(w, ev)
		flusher.Flush()
	}
	fmt.Fprintf(w, "data: %s\n\n", events.Done)
	flusher.Flush()
}

func writeSSE(w http.ResponseWriter, ev events.Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", raw)
}

// chatResponse is the single-shot JSON shape returned for stream:false,
// shaped like an OpenAI-style chat completion response so existing
// clients need no bespoke parsing path.
type chatResponse struct {
	ConversationID string `json:"conversation_id"`
	TraceID        string `json:"trace_id,omitempty"`
	Choices        []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (s *Server) bufferedChat(w http.ResponseWriter, ctx context.Context, req orchestrator.Request) {
	var content string
	var resp chatResponse

	for ev, err := range s.orch.Stream(ctx, req) {
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": errs.Sanitized(err)})
			return
		}
		switch ev.Type {
		case events.TypeToken:
			content += ev.Delta
		case events.TypeError:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": ev.Error})
			return
		case events.TypeMetadata:
			resp.ConversationID = ev.ConversationID
			resp.TraceID = ev.TraceID
		}
	}

	resp.Choices = make([]struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	}, 1)
	resp.Choices[0].Message.Role = string(convo.RoleAssistant)
	// The token deltas already went through the incremental filter in
	// orchestrator.Stream; StripBatch applies the batch rules (closed
	// pairs, unclosed trailing opener) once more to the whole buffered
	// response. The streamed path applies only the incremental filter.
	resp.Choices[0].Message.Content = thinking.StripBatch(content)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	status := proposal.Status(r.URL.Query().Get("status"))
	if status == "" {
		status = proposal.StatusProposed
	}
	list, err := s.proposals.ListByStatus(r.Context(), status)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type approveRequest struct {
	Approver string `json:"approver"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var body approveRequest
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Approver == "" {
		body.Approver = "admin"
	}

	id := r.PathValue("id")
	p, err := s.proposals.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := p.Approve(body.Approver); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.proposals.Update(r.Context(), p); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var body rejectRequest
	_ = json.NewDecoder(r.Body).Decode(&body)

	id := r.PathValue("id")
	p, err := s.proposals.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := p.Reject(body.Reason); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.proposals.Update(r.Context(), p); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	if s.deployer == nil {
		writeErr(w, errs.Fatal("no deployer configured", nil))
		return
	}
	id := r.PathValue("id")
	p, err := s.proposals.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := proposal.DeployWith(r.Context(), p, s.deployer); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.proposals.Update(r.Context(), p); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	if s.deployer == nil {
		writeErr(w, errs.Fatal("no deployer configured", nil))
		return
	}
	id := r.PathValue("id")
	p, err := s.proposals.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := proposal.RollbackWith(r.Context(), p, s.deployer); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.proposals.Update(r.Context(), p); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errs.Is(err, errs.KindValidation):
		status = http.StatusBadRequest
	case errs.Is(err, errs.KindNotFound):
		status = http.StatusNotFound
	case errs.Is(err, errs.KindStateConflict):
		status = http.StatusConflict
	case errs.Is(err, errs.KindTimeout):
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, map[string]string{"error": errs.Sanitized(err)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// ListenAndServe runs an http.Server bound to addr until ctx is
// cancelled, then shuts it down within shutdownGrace.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, shutdownGrace time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
