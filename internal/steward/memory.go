package steward

import (
	"encoding/json"
	"log/slog"
	"os"
)

const maxRecords = 20

// CycleRecord captures what happened in a single cycle.
type CycleRecord struct {
	Tick      uint64         `json:"tick"`
	Level     string         `json:"level"`
	IdleRatio float64        `json:"idle_ratio"`
	Spawned   map[string]int `json:"spawned,omitempty"`
	Failed    int            `json:"failed,omitempty"`
}

// Memory is a ring of recent cycle records, optionally kept in a file.
type Memory struct {
	Records []CycleRecord `json:"records"`
	path    string
}

// LoadMemory reads path. A missing or empty path yields empty memory.
func LoadMemory(path string) *Memory {
	m := &Memory{path: path}
	if path == "" {
		return m
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return m
	}
	if err := json.Unmarshal(data, m); err != nil {
		slog.Warn("steward memory corrupted, starting fresh", "path", path, "error", err)
		m.Records = nil
	}
	return m
}

func (m *Memory) Save() {
	if m.path == "" {
		return
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		slog.Error("failed to marshal steward memory", "error", err)
		return
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		slog.Error("failed to write steward memory", "error", err)
	}
}

// Record adds r, trimming to the most recent records.
func (m *Memory) Record(r CycleRecord) {
	m.Records = append(m.Records, r)
	if len(m.Records) > maxRecords {
		m.Records = m.Records[len(m.Records)-maxRecords:]
	}
}

// Streak counts how many of the latest records in a row have level.
func (m *Memory) Streak(level string) int {
	n := 0
	for i := len(m.Records) - 1; i >= 0 && m.Records[i].Level == level; i-- {
		n++
	}
	return n
}
