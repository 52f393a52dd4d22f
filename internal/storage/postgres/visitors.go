package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/holdroom/backend/internal/session"
)

var visitorColumns = []string{
	"id", "session_id", "ip", "country", "city", "lat", "lng", "isp",
	"user_agent", "screen", "timezone", "languages", "is_bot", "bot_score",
	"status", "page_id", "rotation_pages", "rotation_interval_ms",
	"rotation_index", "rotation_active", "created_at", "last_seen_at",
}

// VisitorStore implements session.Store on the visitors table.
type VisitorStore struct {
	db *sql.DB
}

func NewVisitorStore(db *sql.DB) *VisitorStore {
	return &VisitorStore{db: db}
}

func scanVisitor(row rowScanner) (*session.Visitor, error) {
	var (
		v      session.Visitor
		status string
		pages  pq.StringArray
	)
	err := row.Scan(
		&v.ID, &v.SessionID, &v.IP, &v.Country, &v.City, &v.Lat, &v.Lng, &v.ISP,
		&v.UserAgent, &v.Screen, &v.Timezone, &v.Languages, &v.IsBot, &v.BotScore,
		&status, &v.PageID, &pages, &v.Rotation.IntervalMS,
		&v.Rotation.CurrentIndex, &v.Rotation.Active, &v.CreatedAt, &v.LastSeenAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s, ok := session.ParseStatus(status)
	if !ok {
		return nil, fmt.Errorf("visitor %s has unknown status %q", v.ID, status)
	}
	v.Status = s
	if len(pages) > 0 {
		v.Rotation.PageIDs = []string(pages)
	}
	return &v, nil
}

func (s *VisitorStore) Create(ctx context.Context, v *session.Visitor) error {
	query, args, err := psq.Insert("visitors").Columns(visitorColumns...).Values(
		v.ID, v.SessionID, v.IP, v.Country, v.City, v.Lat, v.Lng, v.ISP,
		v.UserAgent, v.Screen, v.Timezone, v.Languages, v.IsBot, v.BotScore,
		v.Status.String(), v.PageID, pq.StringArray(nonNil(v.Rotation.PageIDs)), v.Rotation.IntervalMS,
		v.Rotation.CurrentIndex, v.Rotation.Active, v.CreatedAt, v.LastSeenAt,
	).ToSql()
	if err != nil {
		return fmt.Errorf("building insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return session.ErrDuplicate
		}
		return fmt.Errorf("inserting visitor: %w", err)
	}
	return nil
}

func (s *VisitorStore) get(ctx context.Context, where sq.Eq) (*session.Visitor, error) {
	query, args, err := psq.Select(visitorColumns...).From("visitors").Where(where).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}
	v, err := scanVisitor(s.db.QueryRowContext(ctx, query, args...))
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		return nil, fmt.Errorf("loading visitor: %w", err)
	}
	return v, err
}

func (s *VisitorStore) Get(ctx context.Context, id string) (*session.Visitor, error) {
	return s.get(ctx, sq.Eq{"id": id})
}

func (s *VisitorStore) FindBySession(ctx context.Context, sessionID string) (*session.Visitor, error) {
	return s.get(ctx, sq.Eq{"session_id": sessionID})
}

func (s *VisitorStore) Touch(ctx context.Context, id string, at time.Time) error {
	n, err := execAffected(ctx, s.db, `UPDATE visitors SET last_seen_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("touching visitor: %w", err)
	}
	if n == 0 {
		return session.ErrNotFound
	}
	return nil
}

// Update locks the row for the length of the transaction, so concurrent
// writers from other processes apply one after another.
func (s *VisitorStore) Update(ctx context.Context, id string, fn func(v *session.Visitor) error) (*session.Visitor, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query, args, err := psq.Select(visitorColumns...).From("visitors").
		Where(sq.Eq{"id": id}).Suffix("FOR UPDATE").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}
	v, err := scanVisitor(tx.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("loading visitor: %w", err)
	}

	if err := fn(v); err != nil {
		return nil, err
	}

	query, args, err = psq.Update("visitors").SetMap(map[string]any{
		"status":               v.Status.String(),
		"page_id":              v.PageID,
		"rotation_pages":       pq.StringArray(nonNil(v.Rotation.PageIDs)),
		"rotation_interval_ms": v.Rotation.IntervalMS,
		"rotation_index":       v.Rotation.CurrentIndex,
		"rotation_active":      v.Rotation.Active,
		"last_seen_at":         v.LastSeenAt,
	}).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building update: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("updating visitor: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing visitor update: %w", err)
	}
	return v, nil
}

func (s *VisitorStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM visitors WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting visitor: %w", err)
	}
	return nil
}

func (s *VisitorStore) List(ctx context.Context, limit int) ([]*session.Visitor, error) {
	qb := psq.Select(visitorColumns...).From("visitors").OrderBy("created_at DESC")
	if limit > 0 {
		qb = qb.Limit(uint64(limit))
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing visitors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*session.Visitor
	for rows.Next() {
		v, err := scanVisitor(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning visitor: %w", err)
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

func (s *VisitorStore) Count(ctx context.Context, f session.Filter) (int, error) {
	qb := psq.Select("COUNT(*)").From("visitors")
	if f.Status != nil {
		qb = qb.Where(sq.Eq{"status": f.Status.String()})
	}
	if !f.SeenSince.IsZero() {
		qb = qb.Where(sq.Gt{"last_seen_at": f.SeenSince})
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count: %w", err)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting visitors: %w", err)
	}
	return n, nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

var _ session.Store = (*VisitorStore)(nil)
