package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/chatkit-dev/chatkit/pkg/convo"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	bot        TEXT NOT NULL,
	complete   INTEGER NOT NULL DEFAULT 0,
	snapshot   TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS transactions (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	data            TEXT NOT NULL,
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_conversation
	ON transactions (conversation_id, created_at);
CREATE TABLE IF NOT EXISTS fulfillments (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	transaction_id  TEXT NOT NULL,
	intent_name     TEXT NOT NULL,
	url             TEXT NOT NULL,
	status_code     INTEGER NOT NULL,
	status          TEXT NOT NULL,
	error           TEXT NOT NULL DEFAULT '',
	request_body    BLOB,
	response_body   BLOB,
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fulfillments_conversation
	ON fulfillments (conversation_id, created_at);
`

// SQLite is a file-backed Store using the pure-Go sqlite driver.
// Snapshots and transactions are stored as JSON documents; fulfillment
// records get real columns since they are queried for auditing.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (and if needed creates) the database at path. The path
// ":memory:" yields an ephemeral database.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// The driver does not support concurrent writers on one connection
	// pool entry; a single connection serializes access safely.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying sqlite schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) SaveSnapshot(ctx context.Context, snap *convo.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	complete := 0
	if snap.Complete {
		complete = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, bot, complete, snapshot, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			complete = excluded.complete,
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at`,
		snap.ID, snap.Bot, complete, string(data), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

func (s *SQLite) LoadSnapshot(ctx context.Context, conversationID string) (*convo.Snapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM conversations WHERE id = ?`, conversationID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}
	var snap convo.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &snap, nil
}

func (s *SQLite) AppendTransaction(ctx context.Context, tx *convo.Transaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("encoding transaction: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, conversation_id, data, created_at)
		VALUES (?, ?, ?, ?)`,
		tx.ID, tx.ConversationID, string(data), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("appending transaction: %w", err)
	}
	return nil
}

func (s *SQLite) ListTransactions(ctx context.Context, conversationID string) ([]*convo.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM transactions
		WHERE conversation_id = ?
		ORDER BY created_at, rowid`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	var out []*convo.Transaction
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var tx convo.Transaction
		if err := json.Unmarshal([]byte(data), &tx); err != nil {
			return nil, fmt.Errorf("decoding transaction: %w", err)
		}
		out = append(out, &tx)
	}
	return out, rows.Err()
}

func (s *SQLite) RecordFulfillment(ctx context.Context, rec *FulfillmentRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fulfillments
			(id, conversation_id, transaction_id, intent_name, url,
			 status_code, status, error, request_body, response_body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ConversationID, rec.TransactionID, rec.IntentName, rec.URL,
		rec.StatusCode, rec.Status, rec.Error, rec.RequestBody, rec.ResponseBody,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("recording fulfillment: %w", err)
	}
	return nil
}

func (s *SQLite) ListFulfillments(ctx context.Context, conversationID string) ([]*FulfillmentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, transaction_id, intent_name, url,
		       status_code, status, error, request_body, response_body, created_at
		FROM fulfillments
		WHERE conversation_id = ?
		ORDER BY created_at, rowid`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("listing fulfillments: %w", err)
	}
	defer rows.Close()

	var out []*FulfillmentRecord
	for rows.Next() {
		var rec FulfillmentRecord
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.ConversationID, &rec.TransactionID,
			&rec.IntentName, &rec.URL, &rec.StatusCode, &rec.Status, &rec.Error,
			&rec.RequestBody, &rec.ResponseBody, &createdAt); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			rec.CreatedAt = ts
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error { return s.db.Close() }
