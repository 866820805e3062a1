// Package webhook handles inbound webhook deliveries: a shared-secret
// header or bearer JWT authenticates the caller, and the body's
// event_type selects one of a few special-cased handlers or falls
// through to matching against enabled Webhook-triggered insight
// schedules.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aethercore/aether/internal/errs"
	"github.com/aethercore/aether/internal/insight"
)

// maxBodySize bounds an inbound webhook payload.
const maxBodySize = 1 << 20

// SharedSecretHeader is the header carrying the pre-shared webhook
// secret. With neither a secret nor a JWT key configured, every delivery
// is rejected as unauthenticated; no startup check requires a secret.
const SharedSecretHeader = "X-Webhook-Secret"

// Body is the inbound webhook payload shape.
type Body struct {
	EventType    string          `json:"event_type"`
	EntityID     string          `json:"entity_id,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	WebhookEvent string          `json:"webhook_event,omitempty"`
}

type stateTransition struct {
	NewState string `json:"new_state"`
	OldState string `json:"old_state"`
}

// ScheduleQueuer hands a matched schedule off to the analysis pipeline
// for background execution; it must not block the HTTP handler.
type ScheduleQueuer interface {
	QueueAnalysis(ctx context.Context, sched *insight.Schedule, body Body) error
}

// RegistrySyncer queues a background entity-registry sync.
type RegistrySyncer interface {
	QueueRegistrySync(ctx context.Context) error
}

// ProposalResolver looks up and applies an approve/reject decision to a
// pending proposal by its identifier.
type ProposalResolver interface {
	Approve(ctx context.Context, proposalID, by string) error
	Reject(ctx context.Context, proposalID, reason string) error
}

// Handler serves inbound webhook deliveries.
type Handler struct {
	secret      string
	jwtVerifier *jwt.Parser
	jwtKeyFunc  jwt.Keyfunc

	schedules  insight.Store
	queuer     ScheduleQueuer
	registry   RegistrySyncer
	proposals  ProposalResolver
	logger     *slog.Logger
}

// Config configures a Handler. Exactly one of Secret or JWTKeyFunc
// should be set; Secret takes precedence when both are present.
type Config struct {
	Secret     string
	JWTKeyFunc jwt.Keyfunc
}

func NewHandler(cfg Config, schedules insight.Store, queuer ScheduleQueuer, registry RegistrySyncer, proposals ProposalResolver) *Handler {
	return &Handler{
		secret:      cfg.Secret,
		jwtVerifier: jwt.NewParser(),
		jwtKeyFunc:  cfg.JWTKeyFunc,
		schedules:   schedules,
		queuer:      queuer,
		registry:    registry,
		proposals:   proposals,
		logger:      slog.Default().With("component", "webhook"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	if !h.authenticate(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	var body Body
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}
	if strings.TrimSpace(body.EventType) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "event_type is required"})
		return
	}

	ctx := r.Context()
	if err := h.dispatch(ctx, body); err != nil {
		h.logger.Error("webhook dispatch failed", "event_type", body.EventType, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": errs.Sanitized(err)})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}

// authenticate checks the shared-secret header in constant time, or
// falls back to bearer JWT verification when a key function is
// configured and no secret is set.
func (h *Handler) authenticate(r *http.Request) bool {
	if h.secret != "" {
		got := r.Header.Get(SharedSecretHeader)
		return subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) == 1
	}
	if h.jwtKeyFunc != nil {
		authz := r.Header.Get("Authorization")
		tokenStr := strings.TrimPrefix(authz, "Bearer ")
		if tokenStr == authz {
			return false
		}
		token, err := h.jwtVerifier.Parse(tokenStr, h.jwtKeyFunc)
		return err == nil && token.Valid
	}
	return false
}

const (
	eventEntityRegistryUpdated   = "entity_registry_updated"
	eventMobileAppNotifyAction   = "mobile_app_notification_action"
)

func (h *Handler) dispatch(ctx context.Context, body Body) error {
	switch body.EventType {
	case eventEntityRegistryUpdated:
		if h.registry == nil {
			return nil
		}
		return h.registry.QueueRegistrySync(ctx)

	case eventMobileAppNotifyAction:
		return h.handleMobileAction(ctx, body)

	default:
		return h.handleGeneric(ctx, body)
	}
}

type mobileActionData struct {
	Action string `json:"action"`
}

const (
	approvePrefix = "APPROVE_"
	rejectPrefix  = "REJECT_"
)

func (h *Handler) handleMobileAction(ctx context.Context, body Body) error {
	var data mobileActionData
	if len(body.Data) > 0 {
		if err := json.Unmarshal(body.Data, &data); err != nil {
			return errs.Validationf("mobile_app_notification_action: invalid data: %v", err)
		}
	}
	if h.proposals == nil {
		return errs.Fatal("no proposal resolver configured", nil)
	}

	switch {
	case strings.HasPrefix(data.Action, approvePrefix):
		proposalID := strings.TrimPrefix(data.Action, approvePrefix)
		return h.proposals.Approve(ctx, proposalID, "mobile_app")
	case strings.HasPrefix(data.Action, rejectPrefix):
		proposalID := strings.TrimPrefix(data.Action, rejectPrefix)
		return h.proposals.Reject(ctx, proposalID, "rejected via mobile notification")
	default:
		return errs.Validationf("unrecognized mobile action %q", data.Action)
	}
}

func (h *Handler) handleGeneric(ctx context.Context, body Body) error {
	all, err := h.schedules.ListSchedulesByTrigger(ctx, insight.TriggerWebhook)
	if err != nil {
		return err
	}

	var transition stateTransition
	if len(body.Data) > 0 {
		_ = json.Unmarshal(body.Data, &transition)
	}

	for _, sched := range all {
		if !sched.Enabled {
			continue
		}
		if sched.EventLabel != "" && sched.EventLabel != body.WebhookEvent && sched.EventLabel != body.EventType {
			continue
		}
		if !matchFilter(sched.MatchFilter, body, transition) {
			continue
		}
		if h.queuer == nil {
			continue
		}
		if err := h.queuer.QueueAnalysis(ctx, sched, body); err != nil {
			h.logger.Error("queue analysis failed", "schedule_id", sched.ID, "error", err)
			// One failing match does not cancel evaluating the rest.
			continue
		}
	}
	return nil
}

// matchFilter applies an insight.MatchFilter to an inbound webhook body:
// every non-empty filter field must match; EntityID supports glob
// patterns ("*", "?") via filepath.Match.
func matchFilter(f insight.MatchFilter, body Body, transition stateTransition) bool {
	if f.EntityID != "" {
		matched, err := filepath.Match(f.EntityID, body.EntityID)
		if err != nil || !matched {
			return false
		}
	}
	if f.EventType != "" && f.EventType != body.EventType {
		return false
	}
	if f.ToState != "" && f.ToState != transition.NewState {
		return false
	}
	if f.FromState != "" && f.FromState != transition.OldState {
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
