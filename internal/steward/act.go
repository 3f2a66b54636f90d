package steward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Queued is the response of an admin command endpoint.
type Queued struct {
	Queued string `json:"queued"`
	Tick   uint64 `json:"tick"`
}

// Actor executes spawns via the admin API.
type Actor struct {
	BaseURL    string
	AdminKey   string
	HTTPClient *http.Client
}

func NewActor(baseURL, adminKey string) *Actor {
	return &Actor{
		BaseURL:    baseURL,
		AdminKey:   adminKey,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Spawn sends one spawn to POST /api/v1/spawn.
func (a *Actor) Spawn(ctx context.Context, s Spawn) (*Queued, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal spawn: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/api/v1/spawn", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.AdminKey)

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST spawn: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("spawn failed (%d): %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}
	var q Queued
	if err := json.Unmarshal(respBody, &q); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &q, nil
}
