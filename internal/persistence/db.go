// Package persistence provides the SQLite store that is the source of truth
// for campaigns, room progress, NPC relationships and the story event log.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/story-engine/internal/campaign"
	"github.com/talgya/story-engine/internal/karma"
	"github.com/talgya/story-engine/internal/npc"
	"github.com/talgya/story-engine/internal/story"
)

// ErrNotFound is returned when a room has no stored record.
var ErrNotFound = errors.New("not found")

// DB wraps a SQLite connection.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
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

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS campaigns (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		synopsis TEXT NOT NULL DEFAULT '',
		tone TEXT NOT NULL DEFAULT '',
		difficulty TEXT NOT NULL DEFAULT '',
		total_acts INTEGER NOT NULL DEFAULT 0,
		document TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS room_progress (
		room_id INTEGER PRIMARY KEY,
		campaign_id TEXT NOT NULL,
		current_act INTEGER NOT NULL,
		current_chapter INTEGER NOT NULL,
		current_scene INTEGER NOT NULL,
		karma INTEGER NOT NULL,
		state_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS npc_relationships (
		room_id INTEGER NOT NULL,
		npc_code TEXT NOT NULL,
		relationship_score INTEGER NOT NULL,
		trust_level INTEGER NOT NULL,
		known_secrets TEXT NOT NULL DEFAULT '[]',
		interactions_count INTEGER NOT NULL DEFAULT 0,
		last_interaction INTEGER NOT NULL DEFAULT 0,
		emotional_state TEXT NOT NULL DEFAULT 'neutral',
		betrayal_triggered INTEGER NOT NULL DEFAULT 0,
		redemption_triggered INTEGER NOT NULL DEFAULT 0,
		custom_state TEXT NOT NULL DEFAULT '{}',
		PRIMARY KEY (room_id, npc_code)
	);

	CREATE TABLE IF NOT EXISTS story_events (
		id TEXT PRIMARY KEY,
		room_id INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		event_data TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_room ON story_events(room_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_progress_campaign ON room_progress(campaign_id);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveCampaign stores a campaign document, replacing any previous version.
func (db *DB) SaveCampaign(ctx context.Context, c *campaign.Campaign) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode campaign %s: %w", c.ID, err)
	}
	s := c.Summary()
	_, err = db.conn.ExecContext(ctx, `INSERT OR REPLACE INTO campaigns
		(id, name, synopsis, tone, difficulty, total_acts, document, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Name, s.Synopsis, s.Tone, s.Difficulty, s.TotalActs, string(doc), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save campaign %s: %w", c.ID, err)
	}
	return nil
}

// Campaign loads a campaign document. It satisfies campaign.Source.
func (db *DB) Campaign(ctx context.Context, id string) (*campaign.Campaign, error) {
	var doc string
	err := db.conn.GetContext(ctx, &doc, "SELECT document FROM campaigns WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", campaign.ErrUnknownCampaign, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query campaign %s: %w", id, err)
	}
	return campaign.Parse([]byte(doc))
}

// Campaigns lists stored campaigns by name.
func (db *DB) Campaigns(ctx context.Context) ([]campaign.Summary, error) {
	list := []campaign.Summary{}
	err := db.conn.SelectContext(ctx, &list,
		"SELECT id, name, synopsis, tone, difficulty, total_acts FROM campaigns ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	return list, nil
}

// Progress loads a room's story state.
func (db *DB) Progress(ctx context.Context, roomID int64) (*story.State, error) {
	var doc string
	err := db.conn.GetContext(ctx, &doc, "SELECT state_json FROM room_progress WHERE room_id = ?", roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query progress %d: %w", roomID, err)
	}
	var st story.State
	if err := json.Unmarshal([]byte(doc), &st); err != nil {
		return nil, fmt.Errorf("decode progress %d: %w", roomID, err)
	}
	st.Normalize()
	return &st, nil
}

// SaveProgress writes a room's story state. Karma and faction standings are
// clamped to their range before writing.
func (db *DB) SaveProgress(ctx context.Context, st *story.State) error {
	st.Karma = karma.Clamp(st.Karma)
	for f, v := range st.FactionStandings {
		st.FactionStandings[f] = karma.Clamp(v)
	}
	st.UpdatedAt = time.Now()

	doc, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode progress %d: %w", st.RoomID, err)
	}
	_, err = db.conn.ExecContext(ctx, `INSERT OR REPLACE INTO room_progress
		(room_id, campaign_id, current_act, current_chapter, current_scene, karma, state_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		st.RoomID, st.CampaignID, st.Act, st.Chapter, st.Scene, st.Karma, string(doc), st.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save progress %d: %w", st.RoomID, err)
	}
	return nil
}

type relationshipRow struct {
	RoomID              int64  `db:"room_id"`
	NPCCode             string `db:"npc_code"`
	Score               int    `db:"relationship_score"`
	Trust               int    `db:"trust_level"`
	KnownSecrets        string `db:"known_secrets"`
	Interactions        int    `db:"interactions_count"`
	LastInteraction     int64  `db:"last_interaction"`
	Emotion             string `db:"emotional_state"`
	BetrayalTriggered   bool   `db:"betrayal_triggered"`
	RedemptionTriggered bool   `db:"redemption_triggered"`
	Custom              string `db:"custom_state"`
}

func (r relationshipRow) relationship() (npc.Relationship, error) {
	rel := npc.Relationship{
		RoomID:              r.RoomID,
		NPCCode:             r.NPCCode,
		Score:               r.Score,
		Trust:               r.Trust,
		Interactions:        r.Interactions,
		Emotion:             npc.ParseEmotionalState(r.Emotion),
		BetrayalTriggered:   r.BetrayalTriggered,
		RedemptionTriggered: r.RedemptionTriggered,
	}
	if r.LastInteraction > 0 {
		rel.LastInteraction = time.UnixMilli(r.LastInteraction)
	}
	if err := json.Unmarshal([]byte(r.KnownSecrets), &rel.KnownSecrets); err != nil {
		return rel, fmt.Errorf("decode known secrets: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Custom), &rel.Custom); err != nil {
		return rel, fmt.Errorf("decode custom state: %w", err)
	}
	return rel, nil
}

const relationshipColumns = `room_id, npc_code, relationship_score, trust_level, known_secrets,
	interactions_count, last_interaction, emotional_state, betrayal_triggered,
	redemption_triggered, custom_state`

// Relationship loads the relationship between a room and an NPC.
func (db *DB) Relationship(ctx context.Context, roomID int64, npcCode string) (npc.Relationship, error) {
	var row relationshipRow
	err := db.conn.GetContext(ctx, &row,
		"SELECT "+relationshipColumns+" FROM npc_relationships WHERE room_id = ? AND npc_code = ?",
		roomID, npcCode)
	if errors.Is(err, sql.ErrNoRows) {
		return npc.Relationship{}, ErrNotFound
	}
	if err != nil {
		return npc.Relationship{}, fmt.Errorf("query relationship %d/%s: %w", roomID, npcCode, err)
	}
	return row.relationship()
}

// Relationships loads every NPC relationship of a room.
func (db *DB) Relationships(ctx context.Context, roomID int64) ([]npc.Relationship, error) {
	var rows []relationshipRow
	err := db.conn.SelectContext(ctx, &rows,
		"SELECT "+relationshipColumns+" FROM npc_relationships WHERE room_id = ? ORDER BY npc_code",
		roomID)
	if err != nil {
		return nil, fmt.Errorf("query relationships %d: %w", roomID, err)
	}
	out := make([]npc.Relationship, 0, len(rows))
	for _, r := range rows {
		rel, err := r.relationship()
		if err != nil {
			return nil, fmt.Errorf("relationship %d/%s: %w", roomID, r.NPCCode, err)
		}
		out = append(out, rel)
	}
	return out, nil
}

// SaveRelationship upserts a relationship. Score and trust are clamped to
// [0, 100] before writing.
func (db *DB) SaveRelationship(ctx context.Context, rel npc.Relationship) error {
	secrets, err := json.Marshal(rel.KnownSecrets)
	if err != nil {
		return fmt.Errorf("encode known secrets: %w", err)
	}
	if rel.KnownSecrets == nil {
		secrets = []byte("[]")
	}
	custom, err := json.Marshal(rel.Custom)
	if err != nil {
		return fmt.Errorf("encode custom state: %w", err)
	}
	if rel.Custom == nil {
		custom = []byte("{}")
	}
	var last int64
	if !rel.LastInteraction.IsZero() {
		last = rel.LastInteraction.UnixMilli()
	}

	row := relationshipRow{
		RoomID:              rel.RoomID,
		NPCCode:             rel.NPCCode,
		Score:               karma.Clamp(rel.Score),
		Trust:               karma.Clamp(rel.Trust),
		KnownSecrets:        string(secrets),
		Interactions:        rel.Interactions,
		LastInteraction:     last,
		Emotion:             rel.Emotion.String(),
		BetrayalTriggered:   rel.BetrayalTriggered,
		RedemptionTriggered: rel.RedemptionTriggered,
		Custom:              string(custom),
	}
	_, err = db.conn.NamedExecContext(ctx, `INSERT OR REPLACE INTO npc_relationships
		(`+relationshipColumns+`)
		VALUES (:room_id, :npc_code, :relationship_score, :trust_level, :known_secrets,
			:interactions_count, :last_interaction, :emotional_state, :betrayal_triggered,
			:redemption_triggered, :custom_state)`, row)
	if err != nil {
		return fmt.Errorf("save relationship %d/%s: %w", rel.RoomID, rel.NPCCode, err)
	}
	return nil
}

// Event is an entry in a room's story log.
type Event struct {
	ID        string          `json:"id"`
	RoomID    int64           `json:"room_id"`
	Type      string          `json:"event_type"`
	Data      json.RawMessage `json:"event_data"`
	CreatedAt time.Time       `json:"created_at"`
}

// LogEntry is an event waiting to be written.
type LogEntry struct {
	Type string
	Data any
}

type eventRow struct {
	ID        string `db:"id"`
	RoomID    int64  `db:"room_id"`
	Type      string `db:"event_type"`
	Data      string `db:"event_data"`
	CreatedAt int64  `db:"created_at"`
}

const insertEvent = "INSERT INTO story_events (id, room_id, event_type, event_data, created_at) VALUES (?, ?, ?, ?, ?)"

// LogEvent appends an event to a room's story log and returns its ID.
func (db *DB) LogEvent(ctx context.Context, roomID int64, eventType string, data any) (string, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode event %s: %w", eventType, err)
	}
	id := uuid.NewString()
	if _, err := db.conn.ExecContext(ctx, insertEvent, id, roomID, eventType, string(payload), time.Now().UnixMilli()); err != nil {
		return "", fmt.Errorf("log event %s: %w", eventType, err)
	}
	return id, nil
}

// LogEvents appends several events in one transaction, in order.
func (db *DB) LogEvents(ctx context.Context, roomID int64, entries []LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, insertEvent)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, e := range entries {
		payload, err := json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", e.Type, err)
		}
		if _, err := stmt.ExecContext(ctx, uuid.NewString(), roomID, e.Type, string(payload), now); err != nil {
			return fmt.Errorf("insert event %s: %w", e.Type, err)
		}
	}

	return tx.Commit()
}

// RecentEvents returns up to limit events of a room, newest first. An empty
// eventType matches every type.
func (db *DB) RecentEvents(ctx context.Context, roomID int64, limit int, eventType string) ([]Event, error) {
	query := "SELECT id, room_id, event_type, event_data, created_at FROM story_events WHERE room_id = ?"
	args := []any{roomID}
	if eventType != "" {
		query += " AND event_type = ?"
		args = append(args, eventType)
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	var rows []eventRow
	if err := db.conn.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query events %d: %w", roomID, err)
	}
	events := make([]Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, Event{
			ID:        r.ID,
			RoomID:    r.RoomID,
			Type:      r.Type,
			Data:      json.RawMessage(r.Data),
			CreatedAt: time.UnixMilli(r.CreatedAt),
		})
	}
	return events, nil
}

// SeedCampaigns stores each campaign that is not stored yet.
func (db *DB) SeedCampaigns(ctx context.Context, campaigns []*campaign.Campaign) error {
	for _, c := range campaigns {
		var n int
		if err := db.conn.GetContext(ctx, &n, "SELECT COUNT(*) FROM campaigns WHERE id = ?", c.ID); err != nil {
			return fmt.Errorf("check campaign %s: %w", c.ID, err)
		}
		if n > 0 {
			continue
		}
		if err := db.SaveCampaign(ctx, c); err != nil {
			return err
		}
		slog.Info("campaign seeded", "campaign", c.ID)
	}
	return nil
}
