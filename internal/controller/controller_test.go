package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aethercore/aether/internal/proposal"
)

func TestNewClient_RequiresBaseURLAndToken(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error for missing base_url")
	}
	if _, err := NewClient(Config{BaseURL: "http://localhost:8123"}); err == nil {
		t.Fatalf("expected error for missing token")
	}
}

func TestCallService_PostsToExpectedPath(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, Token: "secret"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if err := c.CallService(context.Background(), "light", "turn_on", map[string]any{"entity_id": "light.kitchen"}); err != nil {
		t.Fatalf("call service: %v", err)
	}
	if gotPath != "/api/services/light/turn_on" {
		t.Fatalf("expected service path, got %s", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
}

func TestDeployAutomation_ReturnsControllerID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "ctrl-42"})
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, Token: "secret"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	p := proposal.New(proposal.KindAutomation, "", proposal.Body{
		Actions: []map[string]any{{"service": "light.turn_on"}},
	})
	externalID, err := c.DeployAutomation(context.Background(), p)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if externalID != "ctrl-42" {
		t.Fatalf("expected controller id ctrl-42, got %s", externalID)
	}
}

func TestDoJSON_NonSuccessStatusSurfacesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, Token: "secret"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if err := c.CallService(context.Background(), "light", "turn_on", nil); err == nil {
		t.Fatalf("expected error surfaced from non-2xx response")
	}
}

func TestDiscoverEntities_FiltersByEntityID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/states" {
			t.Fatalf("expected /api/states, got %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"entity_id": "light.kitchen"},
			{"entity_id": "light.living_room"},
			{"entity_id": "climate.hallway"},
		})
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, Token: "secret"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	raw, err := c.DiscoverEntities(context.Background(), "LIGHT")
	if err != nil {
		t.Fatalf("discover entities: %v", err)
	}
	var matched []map[string]any
	if err := json.Unmarshal(raw, &matched); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(matched) != 2 {
		t.Fatalf("expected 2 matching entities, got %d: %v", len(matched), matched)
	}
}

func TestDiscoverEntities_EmptyQueryReturnsEverything(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"entity_id": "light.kitchen"},
			{"entity_id": "climate.hallway"},
		})
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, Token: "secret"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	raw, err := c.DiscoverEntities(context.Background(), "")
	if err != nil {
		t.Fatalf("discover entities: %v", err)
	}
	var all []map[string]any
	if err := json.Unmarshal(raw, &all); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected everything returned unfiltered, got %d", len(all))
	}
}

func TestDisable_CallsTurnOffService(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, Token: "secret"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ok, err := c.Disable(context.Background(), "ctrl-42")
	if err != nil || !ok {
		t.Fatalf("expected successful disable, got ok=%v err=%v", ok, err)
	}
	if gotPath != "/api/services/automation/turn_off" {
		t.Fatalf("expected turn_off service path, got %s", gotPath)
	}
}
