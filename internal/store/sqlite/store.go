package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"omnipong/internal/domain"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	path TEXT PRIMARY KEY,
	content BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS reports (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id TEXT NOT NULL,
	payload TEXT NOT NULL,
	failed INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reports_agent ON reports(agent_id, created_at);
`

type ReportEntry struct {
	ID        int64         `json:"id"`
	AgentID   string        `json:"agent_id"`
	Report    domain.Report `json:"report"`
	Failed    bool          `json:"failed"`
	CreatedAt time.Time     `json:"created_at"`
}

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// pragmas are per connection
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set sqlite pragma %q: %w", stmt, err)
		}
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *Store) WriteDocument(ctx context.Context, path string, content []byte) error {
	path = normalizePath(path)
	if path == "" {
		return fmt.Errorf("invalid document path")
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO documents(path, content, updated_at) VALUES(?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
		path, content, time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	return nil
}

func (s *Store) ReadDocument(ctx context.Context, path string) ([]byte, error) {
	path = normalizePath(path)
	var content []byte
	err := s.db.QueryRowContext(ctx, `SELECT content FROM documents WHERE path = ?`, path).Scan(&content)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, path)
		}
		return nil, fmt.Errorf("read document: %w", err)
	}
	return content, nil
}

func (s *Store) ListDocuments(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM documents ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan document path: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func (s *Store) LogReport(ctx context.Context, agentID string, report domain.Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO reports(agent_id, payload, failed, created_at) VALUES(?, ?, ?, ?)`,
		agentID, string(payload), boolToInt(report.Err() != ""), time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("log report: %w", err)
	}
	return nil
}

// ListReports returns the newest reports first. An empty agentID lists all agents.
func (s *Store) ListReports(ctx context.Context, agentID string, limit int) ([]ReportEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, agent_id, payload, failed, created_at FROM reports`
	args := []any{}
	if agentID != "" {
		query += ` WHERE agent_id = ?`
		args = append(args, agentID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var out []ReportEntry
	for rows.Next() {
		var (
			entry   ReportEntry
			payload string
			failed  int
			created int64
		)
		if err := rows.Scan(&entry.ID, &entry.AgentID, &payload, &failed, &created); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &entry.Report); err != nil {
			return nil, fmt.Errorf("decode report %d: %w", entry.ID, err)
		}
		entry.Failed = failed != 0
		entry.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}
	return out, nil
}

func normalizePath(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	p = strings.TrimPrefix(p, "./")
	return strings.TrimPrefix(p, "/")
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
