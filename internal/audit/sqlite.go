package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Lllllllleong/pitchdeckflow/internal/models"
	"github.com/Lllllllleong/pitchdeckflow/internal/sqlitedb"
)

// SQLiteSink writes to the audit_entries table.
type SQLiteSink struct {
	db *sql.DB
}

func NewSQLiteSink(db *sql.DB) *SQLiteSink { return &SQLiteSink{db: db} }

func (s *SQLiteSink) Append(ctx context.Context, e models.AuditEntry) error {
	var completed sql.NullInt64
	if e.CompletedAt != nil {
		completed = sql.NullInt64{Int64: sqlitedb.Stamp(*e.CompletedAt), Valid: true}
	}
	var details sql.NullString
	if e.ErrorDetails != nil {
		details = sql.NullString{String: *e.ErrorDetails, Valid: true}
	}
	_, err := sqlitedb.Exec(ctx, s.db,
		`INSERT INTO audit_entries (id, document_id, stage, scope, attempt, status, started_at, completed_at, error_details)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.DocumentID, string(e.Stage), e.Scope, e.Attempt, string(e.Status),
		sqlitedb.Stamp(e.StartedAt), completed, details)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func (s *SQLiteSink) List(ctx context.Context, documentID string) ([]models.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, stage, scope, attempt, status, started_at, completed_at, error_details
		 FROM audit_entries WHERE document_id = ? ORDER BY started_at, rowid`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var out []models.AuditEntry
	for rows.Next() {
		var (
			e         models.AuditEntry
			stage     string
			status    string
			started   int64
			completed sql.NullInt64
			details   sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.DocumentID, &stage, &e.Scope, &e.Attempt, &status, &started, &completed, &details); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Stage = models.Stage(stage)
		e.Status = models.AuditStatus(status)
		e.StartedAt = sqlitedb.FromStamp(started)
		if completed.Valid {
			t := sqlitedb.FromStamp(completed.Int64)
			e.CompletedAt = &t
		}
		if details.Valid {
			d := details.String
			e.ErrorDetails = &d
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
