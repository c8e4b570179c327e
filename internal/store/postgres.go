package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/haasonsaas/relay/pkg/models"
)

// Postgres backs the store with a single wide entities table: one row per
// entity, JSON payload, a thread_id column for scoping, and a seq column
// for creation order.
type Postgres struct {
	db *sql.DB
}

// PostgresConfig holds connection settings.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns sane pool defaults.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS entities (
	entity_type TEXT NOT NULL,
	id          TEXT NOT NULL,
	thread_id   TEXT NOT NULL DEFAULT '',
	payload     JSONB NOT NULL,
	seq         BIGSERIAL,
	PRIMARY KEY (entity_type, id)
);
CREATE INDEX IF NOT EXISTS entities_thread_idx ON entities (entity_type, thread_id, seq);
CREATE TABLE IF NOT EXISTS file_contents (
	id      TEXT PRIMARY KEY,
	content TEXT NOT NULL
);
`

// NewPostgres opens the pool, pings it, and ensures the schema exists.
func NewPostgres(cfg PostgresConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	if cfg.MaxOpenConns == 0 {
		def := DefaultPostgresConfig()
		def.DSN = cfg.DSN
		cfg = def
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (s *Postgres) create(ctx context.Context, typ, id, threadID string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entities (entity_type, id, thread_id, payload) VALUES ($1, $2, $3, $4)`,
		typ, id, threadID, payload)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert %s: %w", typ, err)
	}
	return nil
}

func (s *Postgres) get(ctx context.Context, typ, id string, v any) error {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM entities WHERE entity_type = $1 AND id = $2`,
		typ, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("select %s: %w", typ, err)
	}
	return json.Unmarshal(payload, v)
}

func (s *Postgres) update(ctx context.Context, typ, id string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE entities SET payload = $3 WHERE entity_type = $1 AND id = $2`,
		typ, id, payload)
	if err != nil {
		return fmt.Errorf("update %s: %w", typ, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) remove(ctx context.Context, typ, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM entities WHERE entity_type = $1 AND id = $2`, typ, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", typ, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) exists(ctx context.Context, typ, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM entities WHERE entity_type = $1 AND id = $2`,
		typ, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("select %s: %w", typ, err)
	}
	return true, nil
}

func (s *Postgres) listIDs(ctx context.Context, typ, threadID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM entities WHERE entity_type = $1 AND thread_id = $2 ORDER BY seq ASC`,
		typ, threadID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", typ, err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// isUniqueViolation matches the lib/pq error code for duplicate keys.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func (s *Postgres) CreateAssistant(ctx context.Context, a *models.Assistant) error {
	return s.create(ctx, TypeAssistant, a.ID, "", a)
}

func (s *Postgres) GetAssistant(ctx context.Context, id string) (*models.Assistant, error) {
	var a models.Assistant
	if err := s.get(ctx, TypeAssistant, id, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Postgres) UpdateAssistant(ctx context.Context, a *models.Assistant) error {
	return s.update(ctx, TypeAssistant, a.ID, a)
}

func (s *Postgres) DeleteAssistant(ctx context.Context, id string) error {
	return s.remove(ctx, TypeAssistant, id)
}

func (s *Postgres) ListAssistants(ctx context.Context, page Page) ([]*models.Assistant, bool, error) {
	ids, err := s.listIDs(ctx, TypeAssistant, "")
	if err != nil {
		return nil, false, err
	}
	window, hasMore := pageWindow(ids, page)
	out := make([]*models.Assistant, 0, len(window))
	for _, id := range window {
		a, err := s.GetAssistant(ctx, id)
		if err != nil {
			return nil, false, err
		}
		out = append(out, a)
	}
	return out, hasMore, nil
}

func (s *Postgres) CreateThread(ctx context.Context, t *models.Thread) error {
	return s.create(ctx, TypeThread, t.ID, "", t)
}

func (s *Postgres) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	var t models.Thread
	if err := s.get(ctx, TypeThread, id, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Postgres) UpdateThread(ctx context.Context, t *models.Thread) error {
	return s.update(ctx, TypeThread, t.ID, t)
}

func (s *Postgres) DeleteThread(ctx context.Context, id string) error {
	if err := s.remove(ctx, TypeThread, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM entities WHERE entity_type IN ($1, $2) AND thread_id = $3`,
		TypeMessage, TypeRun, id)
	if err != nil {
		return fmt.Errorf("delete thread children: %w", err)
	}
	return nil
}

func (s *Postgres) CreateMessage(ctx context.Context, m *models.Message) error {
	ok, err := s.exists(ctx, TypeThread, m.ThreadID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return s.create(ctx, TypeMessage, m.ID, m.ThreadID, m)
}

func (s *Postgres) GetMessage(ctx context.Context, threadID, id string) (*models.Message, error) {
	var m models.Message
	if err := s.get(ctx, TypeMessage, id, &m); err != nil {
		return nil, err
	}
	if m.ThreadID != threadID {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (s *Postgres) UpdateMessage(ctx context.Context, m *models.Message) error {
	if _, err := s.GetMessage(ctx, m.ThreadID, m.ID); err != nil {
		return err
	}
	return s.update(ctx, TypeMessage, m.ID, m)
}

func (s *Postgres) DeleteMessage(ctx context.Context, threadID, id string) error {
	if _, err := s.GetMessage(ctx, threadID, id); err != nil {
		return err
	}
	return s.remove(ctx, TypeMessage, id)
}

func (s *Postgres) ListMessages(ctx context.Context, threadID string, page Page) ([]*models.Message, bool, error) {
	ok, err := s.exists(ctx, TypeThread, threadID)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, ErrNotFound
	}
	ids, err := s.listIDs(ctx, TypeMessage, threadID)
	if err != nil {
		return nil, false, err
	}
	window, hasMore := pageWindow(ids, page)
	out := make([]*models.Message, 0, len(window))
	for _, id := range window {
		m, err := s.GetMessage(ctx, threadID, id)
		if err != nil {
			return nil, false, err
		}
		out = append(out, m)
	}
	return out, hasMore, nil
}

func (s *Postgres) CreateRun(ctx context.Context, r *models.Run) error {
	ok, err := s.exists(ctx, TypeThread, r.ThreadID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return s.create(ctx, TypeRun, r.ID, r.ThreadID, r)
}

func (s *Postgres) GetRun(ctx context.Context, threadID, id string) (*models.Run, error) {
	var r models.Run
	if err := s.get(ctx, TypeRun, id, &r); err != nil {
		return nil, err
	}
	if r.ThreadID != threadID {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (s *Postgres) UpdateRun(ctx context.Context, r *models.Run) error {
	if _, err := s.GetRun(ctx, r.ThreadID, r.ID); err != nil {
		return err
	}
	return s.update(ctx, TypeRun, r.ID, r)
}

func (s *Postgres) ListRuns(ctx context.Context, threadID string, page Page) ([]*models.Run, bool, error) {
	ok, err := s.exists(ctx, TypeThread, threadID)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, ErrNotFound
	}
	ids, err := s.listIDs(ctx, TypeRun, threadID)
	if err != nil {
		return nil, false, err
	}
	window, hasMore := pageWindow(ids, page)
	out := make([]*models.Run, 0, len(window))
	for _, id := range window {
		r, err := s.GetRun(ctx, threadID, id)
		if err != nil {
			return nil, false, err
		}
		out = append(out, r)
	}
	return out, hasMore, nil
}

func (s *Postgres) CreateFile(ctx context.Context, f *models.File, content []byte) error {
	if err := s.create(ctx, TypeFile, f.ID, "", f); err != nil {
		return err
	}
	encoded := base64.StdEncoding.EncodeToString(content)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO file_contents (id, content) VALUES ($1, $2)`, f.ID, encoded)
	if err != nil {
		return fmt.Errorf("insert file content: %w", err)
	}
	return nil
}

func (s *Postgres) GetFile(ctx context.Context, id string) (*models.File, error) {
	var f models.File
	if err := s.get(ctx, TypeFile, id, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *Postgres) GetFileContent(ctx context.Context, id string) ([]byte, error) {
	var encoded string
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM file_contents WHERE id = $1`, id).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select file content: %w", err)
	}
	return base64.StdEncoding.DecodeString(encoded)
}

func (s *Postgres) DeleteFile(ctx context.Context, id string) error {
	if err := s.remove(ctx, TypeFile, id); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM file_contents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete file content: %w", err)
	}
	return nil
}

func (s *Postgres) ListFiles(ctx context.Context, purpose string, page Page) ([]*models.File, bool, error) {
	ids, err := s.listIDs(ctx, TypeFile, "")
	if err != nil {
		return nil, false, err
	}
	byID := make(map[string]*models.File, len(ids))
	filtered := make([]string, 0, len(ids))
	for _, id := range ids {
		f, err := s.GetFile(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		if purpose != "" && f.Purpose != purpose {
			continue
		}
		byID[id] = f
		filtered = append(filtered, id)
	}
	window, hasMore := pageWindow(filtered, page)
	out := make([]*models.File, 0, len(window))
	for _, id := range window {
		out = append(out, byID[id])
	}
	return out, hasMore, nil
}

func (s *Postgres) Close() error {
	return s.db.Close()
}
