// Package steward keeps a running drivesim world stocked. It observes the
// world through the public API, compares entity counts against restock
// rules and spawns the missing resources next to the agents that need them
// through the admin API.
package steward

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Observation holds the data collected during one cycle.
type Observation struct {
	Status Status         `json:"status"`
	Agents []AgentSummary `json:"agents"`
}

// Status mirrors the status object of GET /api/v1/status.
type Status struct {
	Tick         uint64         `json:"tick"`
	SimTime      string         `json:"sim_time"`
	Agents       int            `json:"agents"`
	Acting       int            `json:"acting"`
	Idle         int            `json:"idle"`
	Entities     int            `json:"entities"`
	EntityCounts map[string]int `json:"entity_counts"`
}

type statusEnvelope struct {
	Status  Status  `json:"status"`
	Speed   float64 `json:"speed"`
	Running bool    `json:"running"`
}

// AgentSummary mirrors items from GET /api/v1/agents.
type AgentSummary struct {
	ID      uint64  `json:"id"`
	Name    string  `json:"name"`
	Q       int     `json:"q"`
	R       int     `json:"r"`
	State   string  `json:"state"`
	Drive   string  `json:"drive,omitempty"`
	Idle    bool    `json:"idle"`
	Urgency float64 `json:"urgency"`
}

// Observer fetches world state from the API.
type Observer struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewObserver(baseURL string) *Observer {
	return &Observer{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Observe fetches the status and the agent list.
func (o *Observer) Observe(ctx context.Context) (*Observation, error) {
	var env statusEnvelope
	if err := o.fetchJSON(ctx, "/api/v1/status", &env); err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	obs := &Observation{Status: env.Status}
	if err := o.fetchJSON(ctx, "/api/v1/agents", &obs.Agents); err != nil {
		return nil, fmt.Errorf("fetch agents: %w", err)
	}
	return obs, nil
}

// Ready reports whether the status endpoint answers 200.
func (o *Observer) Ready(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+"/api/v1/status", nil)
	if err != nil {
		return false
	}
	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (o *Observer) fetchJSON(ctx context.Context, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s returned %d: %s", path, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
