// Package persistence provides SQLite-based simulation state storage.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/drivesim/internal/agents"
	"github.com/talgya/drivesim/internal/catalog"
	"github.com/talgya/drivesim/internal/drives"
	"github.com/talgya/drivesim/internal/engine"
	"github.com/talgya/drivesim/internal/plan"
	"github.com/talgya/drivesim/internal/world"
)

// DB wraps a SQLite connection for simulation state persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		pos_q INTEGER NOT NULL,
		pos_r INTEGER NOT NULL,
		entity_id INTEGER NOT NULL,
		born_tick INTEGER NOT NULL,
		drives_json TEXT NOT NULL,
		inventory_json TEXT NOT NULL,
		tags_json TEXT NOT NULL,
		allowed_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS entities (
		id INTEGER PRIMARY KEY,
		type TEXT NOT NULL,
		pos_q INTEGER NOT NULL,
		pos_r INTEGER NOT NULL,
		tags_json TEXT NOT NULL,
		risk REAL NOT NULL,
		agent_id INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS plan_runs (
		id TEXT PRIMARY KEY,
		agent_id INTEGER NOT NULL,
		drive TEXT NOT NULL,
		signature TEXT NOT NULL,
		utility REAL NOT NULL,
		status TEXT NOT NULL,
		reason TEXT NOT NULL,
		start_tick INTEGER NOT NULL,
		end_tick INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tick INTEGER NOT NULL,
		time_ns INTEGER NOT NULL,
		category TEXT NOT NULL,
		kind TEXT NOT NULL,
		agent_id INTEGER NOT NULL,
		drive TEXT NOT NULL,
		plan_id TEXT NOT NULL,
		target INTEGER NOT NULL,
		description TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS world_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_tick ON events(tick);
	CREATE INDEX IF NOT EXISTS idx_plan_runs_agent ON plan_runs(agent_id, end_tick);
	`
	_, err := db.conn.Exec(schema)
	return err
}

type agentRow struct {
	ID            agents.AgentID `db:"id"`
	Name          string         `db:"name"`
	Q             int            `db:"pos_q"`
	R             int            `db:"pos_r"`
	Entity        world.EntityID `db:"entity_id"`
	BornTick      uint64         `db:"born_tick"`
	DrivesJSON    string         `db:"drives_json"`
	InventoryJSON string         `db:"inventory_json"`
	TagsJSON      string         `db:"tags_json"`
	AllowedJSON   string         `db:"allowed_json"`
}

type entityRow struct {
	ID       world.EntityID     `db:"id"`
	Type     catalog.EntityType `db:"type"`
	Q        int                `db:"pos_q"`
	R        int                `db:"pos_r"`
	TagsJSON string             `db:"tags_json"`
	Risk     float64            `db:"risk"`
	Agent    uint64             `db:"agent_id"`
}

type planRunRow struct {
	ID        string         `db:"id"`
	Agent     agents.AgentID `db:"agent_id"`
	Drive     drives.ID      `db:"drive"`
	Signature string         `db:"signature"`
	Utility   float64        `db:"utility"`
	Status    string         `db:"status"`
	Reason    string         `db:"reason"`
	StartTick uint64         `db:"start_tick"`
	EndTick   uint64         `db:"end_tick"`
}

type eventRow struct {
	Tick        uint64         `db:"tick"`
	TimeNS      int64          `db:"time_ns"`
	Category    string         `db:"category"`
	Kind        string         `db:"kind"`
	Agent       agents.AgentID `db:"agent_id"`
	Drive       drives.ID      `db:"drive"`
	Plan        string         `db:"plan_id"`
	Target      world.EntityID `db:"target"`
	Description string         `db:"description"`
}

// SaveState replaces the stored agents and entities with st.
func (db *DB) SaveState(st engine.State) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM agents"); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM entities"); err != nil {
		return err
	}

	stmt, err := tx.Preparex(`INSERT INTO agents
		(id, name, pos_q, pos_r, entity_id, born_tick,
		 drives_json, inventory_json, tags_json, allowed_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range st.Agents {
		drivesJSON, _ := json.Marshal(a.Drives)
		invJSON, _ := json.Marshal(a.Inventory)
		tagsJSON, _ := json.Marshal(a.Tags)
		allowedJSON, _ := json.Marshal(a.Allowed)
		_, err := stmt.Exec(
			a.ID, a.Name, a.Position.Q, a.Position.R, a.Entity, a.BornTick,
			string(drivesJSON), string(invJSON), string(tagsJSON), string(allowedJSON),
		)
		if err != nil {
			return fmt.Errorf("insert agent %d: %w", a.ID, err)
		}
	}

	estmt, err := tx.Preparex(`INSERT INTO entities
		(id, type, pos_q, pos_r, tags_json, risk, agent_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer estmt.Close()

	for _, e := range st.Entities {
		tagsJSON, _ := json.Marshal(e.Tags)
		if _, err := estmt.Exec(e.ID, e.Type, e.Position.Q, e.Position.R, string(tagsJSON), e.Risk, e.Agent); err != nil {
			return fmt.Errorf("insert entity %d: %w", e.ID, err)
		}
	}

	if _, err := tx.Exec("INSERT OR REPLACE INTO world_meta (key, value) VALUES ('last_tick', ?)",
		strconv.FormatUint(st.Tick, 10)); err != nil {
		return err
	}

	return tx.Commit()
}

// LoadState reads the stored agents and entities back.
func (db *DB) LoadState() (engine.State, error) {
	var st engine.State

	tickStr, err := db.GetMeta("last_tick")
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return st, err
	}
	if tickStr != "" {
		if st.Tick, err = strconv.ParseUint(tickStr, 10, 64); err != nil {
			return st, fmt.Errorf("last_tick: %w", err)
		}
	}

	var arows []agentRow
	if err := db.conn.Select(&arows, "SELECT * FROM agents ORDER BY id"); err != nil {
		return st, err
	}
	for _, r := range arows {
		rec := engine.AgentRecord{
			ID:       r.ID,
			Name:     r.Name,
			Position: world.HexCoord{Q: r.Q, R: r.R},
			Entity:   r.Entity,
			BornTick: r.BornTick,
		}
		if err := unmarshalColumns(r.ID, []string{r.DrivesJSON, r.InventoryJSON, r.TagsJSON, r.AllowedJSON},
			&rec.Drives, &rec.Inventory, &rec.Tags, &rec.Allowed); err != nil {
			return st, err
		}
		st.Agents = append(st.Agents, rec)
	}

	var erows []entityRow
	if err := db.conn.Select(&erows, "SELECT * FROM entities ORDER BY id"); err != nil {
		return st, err
	}
	for _, r := range erows {
		e := world.Entity{
			ID:       r.ID,
			Type:     r.Type,
			Position: world.HexCoord{Q: r.Q, R: r.R},
			Risk:     r.Risk,
			Agent:    r.Agent,
		}
		if err := json.Unmarshal([]byte(r.TagsJSON), &e.Tags); err != nil {
			return st, fmt.Errorf("entity %d tags: %w", r.ID, err)
		}
		st.Entities = append(st.Entities, e)
	}

	return st, nil
}

func unmarshalColumns(id agents.AgentID, cols []string, dst ...any) error {
	for i, c := range cols {
		if err := json.Unmarshal([]byte(c), dst[i]); err != nil {
			return fmt.Errorf("agent %d column %d: %w", id, i, err)
		}
	}
	return nil
}

// HasWorldState reports whether a saved state exists.
func (db *DB) HasWorldState() bool {
	var n int
	if err := db.conn.Get(&n, "SELECT COUNT(*) FROM agents"); err != nil {
		return false
	}
	return n > 0
}

// SavePlanRuns appends finished plan runs to the journal.
func (db *DB) SavePlanRuns(runs []engine.PlanRun) error {
	if len(runs) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, r := range runs {
		_, err := tx.Exec(`INSERT OR REPLACE INTO plan_runs
			(id, agent_id, drive, signature, utility, status, reason, start_tick, end_tick)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID.String(), r.Agent, r.Drive, r.Signature, r.Utility,
			r.Status.String(), r.Reason, r.StartTick, r.EndTick,
		)
		if err != nil {
			return fmt.Errorf("insert plan run %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// PlanRuns returns the newest plan runs, newest first. Agent 0 means all agents.
func (db *DB) PlanRuns(agent agents.AgentID, limit int) ([]engine.PlanRun, error) {
	var rows []planRunRow
	var err error
	if agent == 0 {
		err = db.conn.Select(&rows,
			"SELECT * FROM plan_runs ORDER BY end_tick DESC, rowid DESC LIMIT ?", limit)
	} else {
		err = db.conn.Select(&rows,
			"SELECT * FROM plan_runs WHERE agent_id = ? ORDER BY end_tick DESC, rowid DESC LIMIT ?", agent, limit)
	}
	if err != nil {
		return nil, err
	}

	out := make([]engine.PlanRun, 0, len(rows))
	for _, r := range rows {
		id, err := uuid.Parse(r.ID)
		if err != nil {
			return nil, fmt.Errorf("plan run id: %w", err)
		}
		var status plan.Status
		if err := status.UnmarshalText([]byte(r.Status)); err != nil {
			return nil, err
		}
		out = append(out, engine.PlanRun{
			ID:        id,
			Agent:     r.Agent,
			Drive:     r.Drive,
			Signature: r.Signature,
			Utility:   r.Utility,
			Status:    status,
			Reason:    r.Reason,
			StartTick: r.StartTick,
			EndTick:   r.EndTick,
		})
	}
	return out, nil
}

// SaveEvents appends events to the database.
func (db *DB) SaveEvents(events []engine.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Preparex(`INSERT INTO events
		(tick, time_ns, category, kind, agent_id, drive, plan_id, target, description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		_, err := stmt.Exec(e.Tick, e.Time.UnixNano(), e.Category, e.Kind,
			e.Agent, e.Drive, e.Plan, e.Target, e.Description)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// SaveMeta stores a key-value pair in world metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM world_meta WHERE key = ?", key)
	return value, err
}

// SaveWorldState performs a full save: state, plus the events and plan runs
// produced since the last save.
func (db *DB) SaveWorldState(sim *engine.Simulation) error {
	st := sim.State()
	slog.Info("saving world state", "agents", len(st.Agents), "entities", len(st.Entities), "tick", st.Tick)

	if err := db.SaveState(st); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	if err := db.SavePlanRuns(sim.DrainPlanRuns()); err != nil {
		return fmt.Errorf("save plan runs: %w", err)
	}
	if err := db.SaveEvents(sim.DrainEvents()); err != nil {
		return fmt.Errorf("save events: %w", err)
	}

	slog.Info("world state saved")
	return nil
}

// RecentEvents returns the most recent N events, newest first.
func (db *DB) RecentEvents(limit int) ([]engine.Event, error) {
	var rows []eventRow
	err := db.conn.Select(&rows,
		`SELECT tick, time_ns, category, kind, agent_id, drive, plan_id, target, description
		 FROM events ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	out := make([]engine.Event, len(rows))
	for i, r := range rows {
		out[i] = engine.Event{
			Tick:        r.Tick,
			Time:        time.Unix(0, r.TimeNS).UTC(),
			Category:    r.Category,
			Kind:        r.Kind,
			Agent:       r.Agent,
			Drive:       r.Drive,
			Plan:        r.Plan,
			Target:      r.Target,
			Description: r.Description,
		}
	}
	return out, nil
}
