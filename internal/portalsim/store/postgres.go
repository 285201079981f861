package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists chat messages in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			employee_id TEXT NOT NULL,
			question TEXT NOT NULL,
			response TEXT,
			is_from_user BOOLEAN NOT NULL DEFAULT FALSE,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_employee_ts ON chat_messages (employee_id, timestamp);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_session_ts ON chat_messages (session_id, timestamp);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const messageColumns = `id, session_id, employee_id, question, COALESCE(response, ''), is_from_user, timestamp`

func (s *PostgresStore) SaveQuestion(ctx context.Context, msg Message) (Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_messages (id, session_id, employee_id, question, is_from_user, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID,
		msg.SessionID,
		msg.EmployeeID,
		msg.Question,
		msg.IsFromUser,
		msg.Timestamp,
	)
	if err != nil {
		return Message{}, fmt.Errorf("save question: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) RecordResponse(ctx context.Context, sessionID, response string, concluded bool) (Message, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE chat_messages SET response = $2, is_from_user = $3
		 WHERE id = (
			SELECT id FROM chat_messages
			WHERE session_id = $1 AND is_from_user = FALSE
			ORDER BY timestamp DESC LIMIT 1
		 )
		 RETURNING `+messageColumns,
		sessionID,
		response,
		concluded,
	)
	msg, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("record response: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) SessionMessages(ctx context.Context, sessionID string) ([]Message, error) {
	return s.query(ctx, "session messages",
		`SELECT `+messageColumns+` FROM chat_messages WHERE session_id = $1 ORDER BY timestamp`,
		sessionID,
	)
}

func (s *PostgresStore) History(ctx context.Context, employeeID, date string) ([]Message, error) {
	if _, err := time.Parse(dateLayout, date); err != nil {
		return nil, fmt.Errorf("history date: %w", err)
	}
	return s.query(ctx, "history",
		`SELECT `+messageColumns+` FROM chat_messages
		 WHERE employee_id = $1 AND (timestamp AT TIME ZONE 'UTC')::date = $2::date
		 ORDER BY timestamp`,
		employeeID,
		date,
	)
}

func (s *PostgresStore) Dates(ctx context.Context, employeeID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT to_char((timestamp AT TIME ZONE 'UTC')::date, 'YYYY-MM-DD') AS chat_date
		 FROM chat_messages WHERE employee_id = $1 ORDER BY chat_date`,
		employeeID,
	)
	if err != nil {
		return nil, fmt.Errorf("query chat dates: %w", err)
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan chat date: %w", err)
		}
		dates = append(dates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat dates: %w", err)
	}
	return dates, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) query(ctx context.Context, what, sql string, args ...any) ([]Message, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", what, err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s row: %w", what, err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", what, err)
	}
	return out, nil
}

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.SessionID, &m.EmployeeID, &m.Question, &m.Response, &m.IsFromUser, &m.Timestamp)
	if err != nil {
		return Message{}, err
	}
	m.Timestamp = m.Timestamp.UTC()
	return m, nil
}
