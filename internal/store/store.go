// Package store provides SQL persistence for dutyhub: users, duty records,
// the active duty membership of the duty manager, and decision records.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/fentz26/dutyhub/internal/models"
)

// Dialect selects the SQL flavour the store speaks.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// managerID is the id of the single duty manager row.
const managerID = 1

// Store provides access to the dutyhub database.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New opens (or creates) a SQLite database at dbPath and runs migrations.
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, dialect: DialectSQLite}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewPostgres connects to PostgreSQL and runs migrations.
func NewPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Store{db: db, dialect: DialectPostgres}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewWithDB wraps an open handle. Migrations are not run.
func NewWithDB(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Dialect returns the SQL dialect of the store.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *Store) timestampType() string {
	if s.dialect == DialectPostgres {
		return "TIMESTAMPTZ"
	}
	return "DATETIME"
}

// Migrate runs idempotent schema migrations and ensures the manager row.
func (s *Store) Migrate(ctx context.Context) error {
	ts := s.timestampType()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			matric TEXT UNIQUE,
			created_at ` + ts + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS duties (
			id TEXT PRIMARY KEY,
			user_id TEXT REFERENCES users(id),
			debtee_id TEXT REFERENCES users(id),
			duty_start ` + ts + ` NOT NULL,
			duty_end ` + ts + ` NOT NULL,
			task1_start ` + ts + ` NOT NULL,
			task1_end ` + ts + ` NOT NULL,
			task2_start ` + ts + ` NOT NULL,
			task2_end ` + ts + ` NOT NULL,
			task3_start ` + ts + ` NOT NULL,
			task3_end ` + ts + ` NOT NULL,
			last_active ` + ts + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS duty_managers (
			id INTEGER PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS duty_manager_active (
			manager_id INTEGER NOT NULL REFERENCES duty_managers(id),
			duty_id TEXT NOT NULL REFERENCES duties(id) ON DELETE CASCADE,
			PRIMARY KEY (manager_id, duty_id)
		)`,
		`CREATE TABLE IF NOT EXISTS pdr (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			inputs_hash TEXT NOT NULL,
			outcome TEXT NOT NULL,
			duty_id TEXT,
			details TEXT,
			timestamp ` + ts + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_duties_user_id ON duties(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_duties_debtee_id ON duties(debtee_id)`,
		`CREATE INDEX IF NOT EXISTS idx_pdr_timestamp ON pdr(timestamp)`,
		`INSERT INTO duty_managers (id) VALUES (1) ON CONFLICT (id) DO NOTHING`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// --- User Operations ---

// CreateUser inserts a new user. Matric is optional.
func (s *Store) CreateUser(ctx context.Context, email, name, matric string) (*models.User, error) {
	user := &models.User{
		ID:        uuid.New().String(),
		Email:     email,
		Name:      name,
		Matric:    matric,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO users (id, email, name, matric, created_at) VALUES (?, ?, ?, ?, ?)`),
		user.ID, user.Email, user.Name, nullString(user.Matric), user.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

const userColumns = `id, email, name, matric, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*models.User, error) {
	var u models.User
	var matric sql.NullString
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &matric, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Matric = matric.String
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.FindUser(ctx, models.UserLookup{ID: id})
}

// FindUser retrieves a user by the first key set in lookup.
func (s *Store) FindUser(ctx context.Context, lookup models.UserLookup) (*models.User, error) {
	var column, value string
	switch {
	case lookup.ID != "":
		column, value = "id", lookup.ID
	case lookup.Email != "":
		column, value = "email", lookup.Email
	case lookup.Matric != "":
		column, value = "matric", lookup.Matric
	default:
		return nil, nil
	}

	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+userColumns+` FROM users WHERE `+column+` = ?`), value)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

// ListUsers returns all users, oldest first.
func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// --- PDR Operations ---

// WritePDR writes a Process Decision Record.
func (s *Store) WritePDR(ctx context.Context, action, inputsHash, outcome, dutyID, details string) (*models.PDREntry, error) {
	pdr := &models.PDREntry{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		DutyID:     dutyID,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO pdr (id, action, inputs_hash, outcome, duty_id, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		pdr.ID, pdr.Action, pdr.InputsHash, pdr.Outcome, nullString(pdr.DutyID), nullString(pdr.Details), pdr.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert pdr: %w", err)
	}
	return pdr, nil
}

// ListPDR returns the most recent decision records, newest first.
func (s *Store) ListPDR(ctx context.Context, limit int) ([]models.PDREntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT id, action, inputs_hash, outcome, duty_id, details, timestamp FROM pdr ORDER BY timestamp DESC LIMIT ?`),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query pdr: %w", err)
	}
	defer rows.Close()

	var entries []models.PDREntry
	for rows.Next() {
		var e models.PDREntry
		var dutyID, details sql.NullString
		if err := rows.Scan(&e.ID, &e.Action, &e.InputsHash, &e.Outcome, &dutyID, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pdr: %w", err)
		}
		e.DutyID = dutyID.String
		e.Details = details.String
		e.Timestamp = e.Timestamp.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
