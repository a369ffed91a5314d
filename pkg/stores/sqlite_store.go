package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/hpconf/hpconf/pkg/section"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements section.Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

var _ section.Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string        `yaml:"path" validate:"required"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.Path == ":memory:" {
		// every connection to :memory: opens a separate database
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 && cfg.Path != ":memory:" {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Open creates, initializes and migrates a store.
func Open(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) dsn() string {
	pragmas := []string{"_pragma=foreign_keys(1)", "_pragma=busy_timeout(5000)"}
	if s.cfg.Path != ":memory:" {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)", "_txlock=immediate")
	}
	return "file:" + s.cfg.Path + "?" + strings.Join(pragmas, "&")
}

// Init opens the database connection.
func (s *SQLiteStore) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// HealthCheck verifies the database connection.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Load implements section.Store.
func (s *SQLiteStore) Load(ctx context.Context, sectionType string) ([]*section.Section, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM sections
		WHERE type = ?
		ORDER BY position
	`, sectionType)
	if err != nil {
		return nil, fmt.Errorf("failed to list sections: %w", err)
	}
	defer rows.Close()

	var out []*section.Section
	byID := make(map[string]*section.Section)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan section: %w", err)
		}
		sec := section.New(sectionType, id)
		out = append(out, sec)
		byID[id] = sec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sections: %w", err)
	}

	valueRows, err := s.db.QueryContext(ctx, `
		SELECT id, key, value FROM section_values
		WHERE type = ?
		ORDER BY id, key, idx
	`, sectionType)
	if err != nil {
		return nil, fmt.Errorf("failed to list values: %w", err)
	}
	defer valueRows.Close()

	for valueRows.Next() {
		var id, key, value string
		if err := valueRows.Scan(&id, &key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan value: %w", err)
		}
		if sec, ok := byID[id]; ok {
			sec.Values[key] = append(sec.Values[key], value)
		}
	}
	if err := valueRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating values: %w", err)
	}

	return out, nil
}

// SectionsOfType implements section.Store.
func (s *SQLiteStore) SectionsOfType(ctx context.Context, sectionType string) ([]*section.Section, error) {
	return s.Load(ctx, sectionType)
}

// Get implements section.Store.
func (s *SQLiteStore) Get(ctx context.Context, sectionType, id, key string) ([]string, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sections WHERE type = ? AND id = ?`, sectionType, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("section not found: %s.%s", sectionType, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get section: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT value FROM section_values
		WHERE type = ? AND id = ? AND key = ?
		ORDER BY idx
	`, sectionType, id, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get values: %w", err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan value: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// Set implements section.Store.
func (s *SQLiteStore) Set(ctx context.Context, sectionType, id, key string, values []string) error {
	return s.Apply(ctx, []section.Change{section.SetChange(sectionType, id, key, values)})
}

// Apply implements section.Store. The batch runs in one transaction and is
// recorded in the audit table under a fresh batch ID.
func (s *SQLiteStore) Apply(ctx context.Context, changes []section.Change) error {
	if len(changes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	batchID := uuid.New().String()
	for i := range changes {
		c := &changes[i]
		if err := applyChange(ctx, tx, c); err != nil {
			return err
		}
		if err := audit(ctx, tx, batchID, c); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func applyChange(ctx context.Context, tx *sql.Tx, c *section.Change) error {
	switch c.Op {
	case section.ChangeCreate:
		if c.Section == nil {
			return fmt.Errorf("create %s.%s: missing section", c.Type, c.ID)
		}
		order, err := loadOrder(ctx, tx, c.Type)
		if err != nil {
			return err
		}
		if slices.Contains(order, c.ID) {
			return fmt.Errorf("section %s.%s already exists", c.Type, c.ID)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO sections (type, id, position) VALUES (?, ?, ?)`,
			c.Type, c.ID, len(order)); err != nil {
			return fmt.Errorf("failed to create section: %w", err)
		}
		for key, values := range c.Section.Values {
			if err := writeValues(ctx, tx, c.Type, c.ID, key, values); err != nil {
				return err
			}
		}
		return saveOrder(ctx, tx, c.Type, insertAt(order, c.ID, c.Index))

	case section.ChangeSet:
		if err := touch(ctx, tx, c.Type, c.ID); err != nil {
			return err
		}
		return writeValues(ctx, tx, c.Type, c.ID, c.Key, c.Values)

	case section.ChangeDelete:
		result, err := tx.ExecContext(ctx, `DELETE FROM sections WHERE type = ? AND id = ?`, c.Type, c.ID)
		if err != nil {
			return fmt.Errorf("failed to delete section: %w", err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return fmt.Errorf("section %s.%s not found", c.Type, c.ID)
		}
		order, err := loadOrder(ctx, tx, c.Type)
		if err != nil {
			return err
		}
		return saveOrder(ctx, tx, c.Type, order)

	case section.ChangeMove:
		order, err := loadOrder(ctx, tx, c.Type)
		if err != nil {
			return err
		}
		idx := slices.Index(order, c.ID)
		if idx < 0 {
			return fmt.Errorf("section %s.%s not found", c.Type, c.ID)
		}
		order = slices.Delete(order, idx, idx+1)
		return saveOrder(ctx, tx, c.Type, insertAt(order, c.ID, c.Index))
	}
	return fmt.Errorf("unknown change op %q", c.Op)
}

func touch(ctx context.Context, tx *sql.Tx, sectionType, id string) error {
	result, err := tx.ExecContext(ctx, `UPDATE sections SET updated_at = CURRENT_TIMESTAMP WHERE type = ? AND id = ?`,
		sectionType, id)
	if err != nil {
		return fmt.Errorf("failed to update section: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("section %s.%s not found", sectionType, id)
	}
	return nil
}

func writeValues(ctx context.Context, tx *sql.Tx, sectionType, id, key string, values []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM section_values WHERE type = ? AND id = ? AND key = ?`,
		sectionType, id, key); err != nil {
		return fmt.Errorf("failed to clear values: %w", err)
	}
	for i, v := range values {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO section_values (type, id, key, idx, value)
			VALUES (?, ?, ?, ?, ?)
		`, sectionType, id, key, i, v); err != nil {
			return fmt.Errorf("failed to write value: %w", err)
		}
	}
	return nil
}

func loadOrder(ctx context.Context, tx *sql.Tx, sectionType string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM sections WHERE type = ? ORDER BY position`, sectionType)
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func saveOrder(ctx context.Context, tx *sql.Tx, sectionType string, ids []string) error {
	for pos, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE sections SET position = ? WHERE type = ? AND id = ?`,
			pos, sectionType, id); err != nil {
			return fmt.Errorf("failed to save order: %w", err)
		}
	}
	return nil
}

func insertAt(ids []string, id string, index int) []string {
	if index < 0 || index >= len(ids) {
		return append(ids, id)
	}
	return slices.Insert(ids, index, id)
}

func audit(ctx context.Context, tx *sql.Tx, batchID string, c *section.Change) error {
	var key, value *string
	switch c.Op {
	case section.ChangeSet:
		key = &c.Key
		b, err := json.Marshal(c.Values)
		if err != nil {
			return fmt.Errorf("failed to encode audit value: %w", err)
		}
		v := string(b)
		value = &v
	case section.ChangeCreate:
		b, err := json.Marshal(c.Section.Values)
		if err != nil {
			return fmt.Errorf("failed to encode audit value: %w", err)
		}
		v := string(b)
		value = &v
	case section.ChangeMove:
		v := fmt.Sprintf("%d", c.Index)
		value = &v
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO audit (batch_id, op, type, id, key, value)
		VALUES (?, ?, ?, ?, ?, ?)
	`, batchID, string(c.Op), c.Type, c.ID, key, value); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// Audit returns audit entries matching filter, newest first.
func (s *SQLiteStore) Audit(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	query := `SELECT seq, batch_id, op, type, id, key, value, created_at FROM audit WHERE 1=1`
	var args []interface{}

	if filter.Type != "" {
		query += " AND type = ?"
		args = append(args, filter.Type)
	}
	if filter.ID != "" {
		query += " AND id = ?"
		args = append(args, filter.ID)
	}
	if filter.BatchID != "" {
		query += " AND batch_id = ?"
		args = append(args, filter.BatchID)
	}
	query += " ORDER BY seq DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		e := &AuditEntry{}
		if err := rows.Scan(&e.Seq, &e.BatchID, &e.Op, &e.Type, &e.ID, &e.Key, &e.Value, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}
