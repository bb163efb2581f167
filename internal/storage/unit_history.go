package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/camera-agents/internal/model"
)

// StatusRecord is one persisted status transition
type StatusRecord struct {
	ID         string           `json:"id"`
	UnitID     string           `json:"unit_id"`
	UnitName   string           `json:"unit_name"`
	FromStatus model.UnitStatus `json:"from_status"`
	ToStatus   model.UnitStatus `json:"to_status"`
	Message    string           `json:"message,omitempty"`
	At         time.Time        `json:"at"`
}

// Filter narrows List and Count. Empty fields match everything.
type Filter struct {
	UnitID   string
	UnitName string
	ToStatus model.UnitStatus
	Since    time.Time
}

// HistoryStorage stores unit status transitions
type HistoryStorage interface {
	// Record stores one status transition
	Record(ctx context.Context, event model.StatusEvent) error

	// List returns the most recent records first
	List(ctx context.Context, filter Filter, offset, limit int) ([]*StatusRecord, error)

	// Count returns the number of records matching filter
	Count(ctx context.Context, filter Filter) (int, error)

	// DeleteBefore deletes records older than before and returns how many
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)

	Close() error
}

// SQLiteHistory implements HistoryStorage using SQLite
type SQLiteHistory struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteHistory opens (or creates) the history database at dbPath
func NewSQLiteHistory(logger *zap.Logger, dbPath string) (*SQLiteHistory, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	storage := &SQLiteHistory{
		logger: logger.Named("history"),
		db:     db,
	}

	if err := storage.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return storage, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLiteHistory) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS unit_history (
			id TEXT PRIMARY KEY,
			unit_id TEXT NOT NULL,
			unit_name TEXT NOT NULL,
			from_status TEXT NOT NULL,
			to_status TEXT NOT NULL,
			message TEXT,
			at DATETIME NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_unit_history_unit_id ON unit_history(unit_id);
		CREATE INDEX IF NOT EXISTS idx_unit_history_unit_name ON unit_history(unit_name);
		CREATE INDEX IF NOT EXISTS idx_unit_history_to_status ON unit_history(to_status);
		CREATE INDEX IF NOT EXISTS idx_unit_history_at ON unit_history(at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Record implements HistoryStorage.Record
func (s *SQLiteHistory) Record(ctx context.Context, event model.StatusEvent) error {
	at := event.At
	if at.IsZero() {
		at = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO unit_history (
			id, unit_id, unit_name, from_status, to_status, message, at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(),
		event.UnitID,
		event.UnitName,
		string(event.From),
		string(event.To),
		sql.NullString{String: event.Message, Valid: event.Message != ""},
		at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to store unit history: %w", err)
	}
	return nil
}

func (f Filter) where() (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if f.UnitID != "" {
		clauses = append(clauses, "unit_id = ?")
		args = append(args, f.UnitID)
	}
	if f.UnitName != "" {
		clauses = append(clauses, "unit_name = ?")
		args = append(args, f.UnitName)
	}
	if f.ToStatus != "" {
		clauses = append(clauses, "to_status = ?")
		args = append(args, string(f.ToStatus))
	}
	if !f.Since.IsZero() {
		clauses = append(clauses, "at >= ?")
		args = append(args, f.Since.UTC())
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// List implements HistoryStorage.List
func (s *SQLiteHistory) List(ctx context.Context, filter Filter, offset, limit int) ([]*StatusRecord, error) {
	where, args := filter.where()
	query := "SELECT id, unit_id, unit_name, from_status, to_status, message, at FROM unit_history" +
		where + " ORDER BY at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list unit history: %w", err)
	}
	defer rows.Close()

	var records []*StatusRecord
	for rows.Next() {
		record := &StatusRecord{}
		var message sql.NullString

		err := rows.Scan(
			&record.ID,
			&record.UnitID,
			&record.UnitName,
			&record.FromStatus,
			&record.ToStatus,
			&message,
			&record.At,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan unit history: %w", err)
		}
		if message.Valid {
			record.Message = message.String
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return records, nil
}

// Count implements HistoryStorage.Count
func (s *SQLiteHistory) Count(ctx context.Context, filter Filter) (int, error) {
	where, args := filter.where()

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM unit_history"+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unit history: %w", err)
	}
	return count, nil
}

// DeleteBefore implements HistoryStorage.DeleteBefore
func (s *SQLiteHistory) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM unit_history WHERE at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete unit history: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Info("Deleted old unit history records",
		zap.Time("before", before),
		zap.Int64("deleted", affected))

	return affected, nil
}

// Close closes the database connection
func (s *SQLiteHistory) Close() error {
	return s.db.Close()
}
