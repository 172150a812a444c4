package telemetry

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store using SQLite (grounded on
// trace.SQLiteStore's schema-and-query shape).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (without yet initializing) a SQLite-backed
// telemetry store at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("telemetry: open sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id          TEXT PRIMARY KEY,
		timestamp   DATETIME NOT NULL,
		audit_token TEXT NOT NULL,
		signing_id  TEXT,
		binary_path TEXT,
		event_kind  TEXT NOT NULL,
		target_path TEXT NOT NULL,
		rule_name   TEXT,
		decision    TEXT NOT NULL,
		cacheable   INTEGER NOT NULL DEFAULT 0,
		prev_hash   TEXT NOT NULL,
		hash        TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_audit_token ON records(audit_token);
	CREATE INDEX IF NOT EXISTS idx_records_rule_name ON records(rule_name);
	CREATE INDEX IF NOT EXISTS idx_records_timestamp ON records(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) InsertRecord(r *Record) error {
	_, err := s.db.Exec(`INSERT INTO records
		(id, timestamp, audit_token, signing_id, binary_path, event_kind, target_path, rule_name, decision, cacheable, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Timestamp, r.AuditToken, nullStr(r.SigningID), nullStr(r.BinaryPath),
		r.EventKind, r.TargetPath, nullStr(r.RuleName), r.Decision, r.Cacheable, r.PrevHash, r.Hash,
	)
	return err
}

func (s *SQLiteStore) ListRecords(filter Filter) ([]*Record, error) {
	var where []string
	var args []any

	if filter.AuditToken != "" {
		where = append(where, "audit_token = ?")
		args = append(args, filter.AuditToken)
	}
	if filter.RuleName != "" {
		where = append(where, "rule_name = ?")
		args = append(args, filter.RuleName)
	}
	if !filter.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, filter.Since)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, timestamp, audit_token, signing_id, binary_path, event_kind, target_path, rule_name, decision, cacheable, prev_hash, hash
		FROM records` + clause + " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r := &Record{}
		var signingID, binaryPath, ruleName sql.NullString
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.AuditToken, &signingID, &binaryPath,
			&r.EventKind, &r.TargetPath, &ruleName, &r.Decision, &r.Cacheable, &r.PrevHash, &r.Hash); err != nil {
			return nil, err
		}
		r.SigningID = signingID.String
		r.BinaryPath = binaryPath.String
		r.RuleName = ruleName.String
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) PruneOlderThan(days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	result, err := s.db.Exec("DELETE FROM records WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *SQLiteStore) VerifyHashChain() (bool, int, error) {
	rows, err := s.db.Query(`SELECT id, audit_token, event_kind, target_path, rule_name, decision, prev_hash, hash
		FROM records ORDER BY timestamp ASC`)
	if err != nil {
		return false, 0, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r := &Record{}
		var ruleName sql.NullString
		if err := rows.Scan(&r.ID, &r.AuditToken, &r.EventKind, &r.TargetPath, &ruleName, &r.Decision, &r.PrevHash, &r.Hash); err != nil {
			return false, 0, err
		}
		r.RuleName = ruleName.String
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return false, 0, err
	}

	valid, brokenAt := verifyChain(records)
	return valid, brokenAt, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
