package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"oppscan/internal/domain"
)

// PostgresStore handles interactions with the PostgreSQL database: the
// opportunities table, scrape sessions, and the durable progress records.
type PostgresStore struct {
	db *pgxpool.Pool
	sb sq.StatementBuilderType
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return &PostgresStore{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

// CreateSession records a batch invocation. Session ids are unique and
// never reused, so a conflict is surfaced as an error.
func (s *PostgresStore) CreateSession(ctx context.Context, session *domain.ScrapeSession) error {
	sources, err := json.Marshal(session.Sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}
	query, args, err := s.sb.Insert("scrape_sessions").
		Columns("id", "created_at", "sources").
		Values(session.ID, session.CreatedAt, sources).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert session %s: %w", session.ID, err)
	}
	return nil
}

// InsertOpportunity writes one accepted opportunity. Inserts are
// deduplicated on (source_url, title); a duplicate returns ErrDuplicate so
// the caller can count it without treating it as a write failure.
func (s *PostgresStore) InsertOpportunity(ctx context.Context, o *domain.Opportunity) error {
	query, args, err := s.sb.Insert("opportunities").
		Columns("id", "title", "agency", "geography", "region", "tags",
			"contract_type", "value_min", "value_max",
			"issue_date", "questions_due", "pre_bid_date", "proposal_due",
			"summary", "priority", "source_name", "source_url",
			"status", "created_by", "created_at").
		Values(o.ID, o.Title, o.Agency, o.Geography, o.Region, o.Tags,
			o.ContractType, o.ValueMin, o.ValueMax,
			o.IssueDate, o.QuestionsDue, o.PreBidDate, o.ProposalDue,
			o.Summary, o.Priority, o.SourceName, o.SourceURL,
			o.Status, o.CreatedBy, o.CreatedAt).
		Suffix("ON CONFLICT (source_url, title) DO NOTHING").
		ToSql()
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrWriteFailed, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicate
	}
	return nil
}

// OpportunityExists checks the dedup key without inserting.
func (s *PostgresStore) OpportunityExists(ctx context.Context, sourceURL, title string) (bool, error) {
	query, args, err := s.sb.Select("1").
		From("opportunities").
		Where(sq.Eq{"source_url": sourceURL, "title": title}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, err
	}
	var one int
	err = s.db.QueryRow(ctx, query, args...).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpsertProgress writes one progress record keyed by
// (session_id, source_url). The update is idempotent, and
// opportunities_found can only grow once set.
func (s *PostgresStore) UpsertProgress(ctx context.Context, rec *domain.ProgressRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO scrape_progress
			(session_id, source_name, source_url, status, opportunities_found,
			 error_message, retry_count, started_at, completed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (session_id, source_url) DO UPDATE SET
			status = EXCLUDED.status,
			opportunities_found = GREATEST(scrape_progress.opportunities_found, EXCLUDED.opportunities_found),
			error_message = EXCLUDED.error_message,
			retry_count = EXCLUDED.retry_count,
			started_at = COALESCE(scrape_progress.started_at, EXCLUDED.started_at),
			completed_at = EXCLUDED.completed_at,
			updated_at = NOW()`,
		rec.SessionID, rec.SourceName, rec.SourceURL, string(rec.Status),
		rec.OpportunitiesFound, rec.ErrorMessage, rec.RetryCount,
		rec.StartedAt, rec.CompletedAt)
	if err != nil {
		return fmt.Errorf("upsert progress %s/%s: %w", rec.SessionID, rec.SourceURL, err)
	}
	return nil
}

// ProgressBySession returns the full durable set of progress records for a
// session, the representation every completion check runs against.
func (s *PostgresStore) ProgressBySession(ctx context.Context, sessionID string) ([]domain.ProgressRecord, error) {
	query, args, err := s.sb.Select("session_id", "source_name", "source_url",
		"status", "opportunities_found", "error_message", "retry_count",
		"started_at", "completed_at", "updated_at").
		From("scrape_progress").
		Where(sq.Eq{"session_id": sessionID}).
		OrderBy("source_name").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query progress for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var records []domain.ProgressRecord
	for rows.Next() {
		var rec domain.ProgressRecord
		var status string
		if err := rows.Scan(&rec.SessionID, &rec.SourceName, &rec.SourceURL,
			&status, &rec.OpportunitiesFound, &rec.ErrorMessage, &rec.RetryCount,
			&rec.StartedAt, &rec.CompletedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan progress row: %w", err)
		}
		rec.Status = domain.ProgressStatus(status)
		records = append(records, rec)
	}
	return records, rows.Err()
}
