package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/sms/pkg/storage"
)

const logColumns = `id, action, resource, resource_id, user_id, user_email,
	ip_address, user_agent, details, success, error_message, timestamp`

// Store reads and writes audit_logs
type Store struct {
	q storage.Querier
}

// NewStore creates a store on q
func NewStore(q storage.Querier) *Store {
	return &Store{q: q}
}

// With returns a store bound to q, typically a transaction
func (s *Store) With(q storage.Querier) *Store {
	return &Store{q: q}
}

// Insert appends one entry and sets its ID
func (s *Store) Insert(ctx context.Context, l *Log) error {
	details := l.Details
	if details == nil {
		details = map[string]interface{}{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to marshal details: %w", err)
	}

	query := `
		INSERT INTO audit_logs (
			action, resource, resource_id, user_id, user_email,
			ip_address, user_agent, details, success, error_message, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`
	err = s.q.QueryRowContext(ctx, query,
		string(l.Action), string(l.Resource), l.ResourceID, l.UserID, l.UserEmail,
		l.IPAddress, l.UserAgent, string(detailsJSON), l.Success, l.ErrorMessage, l.Timestamp.UTC(),
	).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// whereClause builds the WHERE clause for filter
func whereClause(filter SearchFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.UserID != nil {
		add("user_id = $%d", *filter.UserID)
	}
	if filter.Action != "" {
		add("action = $%d", string(filter.Action))
	}
	if filter.Resource != "" {
		add("resource = $%d", string(filter.Resource))
	}
	if filter.ResourceID != "" {
		add("resource_id = $%d", filter.ResourceID)
	}
	if filter.StartTime != nil {
		add("timestamp >= $%d", filter.StartTime.UTC())
	}
	if filter.EndTime != nil {
		add("timestamp <= $%d", filter.EndTime.UTC())
	}
	if filter.Success != nil {
		add("success = $%d", *filter.Success)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Search returns matching entries, newest first
func (s *Store) Search(ctx context.Context, filter SearchFilter) ([]*Log, error) {
	where, args := whereClause(filter)
	query := "SELECT " + logColumns + " FROM audit_logs" + where + " ORDER BY timestamp DESC, id DESC"

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
		args = append(args, filter.Skip)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit logs: %w", err)
	}
	defer rows.Close()

	logs := []*Log{}
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Count returns the number of matching entries
func (s *Store) Count(ctx context.Context, filter SearchFilter) (int64, error) {
	where, args := whereClause(filter)
	var n int64
	if err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count audit logs: %w", err)
	}
	return n, nil
}

// Get returns one entry or storage.ErrNotFound
func (s *Store) Get(ctx context.Context, id int64) (*Log, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+logColumns+" FROM audit_logs WHERE id = $1", id)
	l, err := scanLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return l, err
}

// Prune deletes entries older than before
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx, "DELETE FROM audit_logs WHERE timestamp < $1", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit logs: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanLog(sc scanner) (*Log, error) {
	var (
		l            Log
		action       string
		resource     string
		resourceID   sql.NullString
		userID       sql.NullInt64
		userEmail    sql.NullString
		ipAddress    sql.NullString
		userAgent    sql.NullString
		details      sql.NullString
		errorMessage sql.NullString
	)
	err := sc.Scan(&l.ID, &action, &resource, &resourceID, &userID, &userEmail,
		&ipAddress, &userAgent, &details, &l.Success, &errorMessage, &l.Timestamp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan audit log: %w", err)
	}

	l.Action = Action(action)
	l.Resource = Resource(resource)
	l.ResourceID = nullString(resourceID)
	l.UserEmail = nullString(userEmail)
	l.IPAddress = nullString(ipAddress)
	l.UserAgent = nullString(userAgent)
	l.ErrorMessage = nullString(errorMessage)
	if userID.Valid {
		id := userID.Int64
		l.UserID = &id
	}
	l.Timestamp = l.Timestamp.UTC()

	l.Details = map[string]interface{}{}
	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &l.Details); err != nil {
			l.Details = map[string]interface{}{"raw": details.String}
		}
	}
	return &l, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
