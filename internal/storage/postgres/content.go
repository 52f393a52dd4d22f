package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/holdroom/backend/internal/content"
)

var (
	pageColumns   = []string{"id", "name", "content", "is_default", "created_at", "updated_at"}
	alertColumns  = []string{"id", "type", "message", "severity", "read", "created_at"}
	targetColumns = []string{"id", "host", "description", "ports", "status", "created_at"}
	scanColumns   = []string{"id", "target_id", "scan_type", "results", "notes", "status", "created_at"}
	vulnColumns   = []string{"id", "target_id", "title", "severity", "description", "cvss", "status", "created_at"}
)

// ContentRepository implements content.Repository.
type ContentRepository struct {
	db *sql.DB
}

func NewContentRepository(db *sql.DB) *ContentRepository {
	return &ContentRepository{db: db}
}

func scanPage(row rowScanner) (*content.Page, error) {
	var p content.Page
	err := row.Scan(&p.ID, &p.Name, &p.Content, &p.IsDefault, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, content.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ContentRepository) GetPage(ctx context.Context, id string) (*content.Page, error) {
	query, args, err := psq.Select(pageColumns...).From("pages").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}
	p, err := scanPage(r.db.QueryRowContext(ctx, query, args...))
	if err != nil && !errors.Is(err, content.ErrNotFound) {
		return nil, fmt.Errorf("loading page: %w", err)
	}
	return p, err
}

func (r *ContentRepository) DefaultPage(ctx context.Context) (*content.Page, error) {
	query, args, err := psq.Select(pageColumns...).From("pages").
		Where(sq.Eq{"is_default": true}).Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}
	p, err := scanPage(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, content.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading default page: %w", err)
	}
	return p, nil
}

func (r *ContentRepository) ListPages(ctx context.Context) ([]*content.Page, error) {
	query, args, err := psq.Select(pageColumns...).From("pages").OrderBy("created_at DESC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing pages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*content.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning page: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (r *ContentRepository) CreatePage(ctx context.Context, p *content.Page) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if p.IsDefault {
		if _, err := tx.ExecContext(ctx, `UPDATE pages SET is_default = FALSE WHERE is_default`); err != nil {
			return fmt.Errorf("clearing default page: %w", err)
		}
	}

	query, args, err := psq.Insert("pages").Columns(pageColumns...).
		Values(p.ID, p.Name, p.Content, p.IsDefault, p.CreatedAt, p.UpdatedAt).ToSql()
	if err != nil {
		return fmt.Errorf("building insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting page: %w", err)
	}
	return tx.Commit()
}

func (r *ContentRepository) UpdatePage(ctx context.Context, id string, u content.PageUpdate, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if u.IsDefault != nil && *u.IsDefault {
		if _, err := tx.ExecContext(ctx, `UPDATE pages SET is_default = FALSE WHERE is_default AND id <> $1`, id); err != nil {
			return fmt.Errorf("clearing default page: %w", err)
		}
	}

	qb := psq.Update("pages").Set("updated_at", at).Where(sq.Eq{"id": id})
	if u.Name != nil {
		qb = qb.Set("name", *u.Name)
	}
	if u.Content != nil {
		qb = qb.Set("content", *u.Content)
	}
	if u.IsDefault != nil {
		qb = qb.Set("is_default", *u.IsDefault)
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return fmt.Errorf("building update: %w", err)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating page: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return content.ErrNotFound
	}
	return tx.Commit()
}

func (r *ContentRepository) DeletePage(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM pages WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting page: %w", err)
	}
	return nil
}

func (r *ContentRepository) CreateAlert(ctx context.Context, a *content.Alert) error {
	query, args, err := psq.Insert("alerts").Columns(alertColumns...).
		Values(a.ID, a.Type, a.Message, a.Severity, a.Read, a.CreatedAt).ToSql()
	if err != nil {
		return fmt.Errorf("building insert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting alert: %w", err)
	}
	return nil
}

func (r *ContentRepository) ListAlerts(ctx context.Context, limit int) ([]*content.Alert, error) {
	qb := psq.Select(alertColumns...).From("alerts").OrderBy("created_at DESC")
	if limit > 0 {
		qb = qb.Limit(uint64(limit))
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*content.Alert
	for rows.Next() {
		var a content.Alert
		if err := rows.Scan(&a.ID, &a.Type, &a.Message, &a.Severity, &a.Read, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		result = append(result, &a)
	}
	return result, rows.Err()
}

func (r *ContentRepository) MarkAlertRead(ctx context.Context, id string) error {
	n, err := execAffected(ctx, r.db, `UPDATE alerts SET read = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("marking alert read: %w", err)
	}
	if n == 0 {
		return content.ErrNotFound
	}
	return nil
}

func (r *ContentRepository) MarkAllAlertsRead(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE alerts SET read = TRUE WHERE NOT read`); err != nil {
		return fmt.Errorf("marking alerts read: %w", err)
	}
	return nil
}

func (r *ContentRepository) ClearAlerts(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM alerts`); err != nil {
		return fmt.Errorf("clearing alerts: %w", err)
	}
	return nil
}

func (r *ContentRepository) UnreadAlerts(ctx context.Context) (int, error) {
	return r.count(ctx, psq.Select("COUNT(*)").From("alerts").Where(sq.Eq{"read": false}))
}

func (r *ContentRepository) ListTargets(ctx context.Context) ([]*content.Target, error) {
	query, args, err := psq.Select(targetColumns...).From("targets").OrderBy("created_at ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing targets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*content.Target
	for rows.Next() {
		var t content.Target
		if err := rows.Scan(&t.ID, &t.Host, &t.Description, &t.Ports, &t.Status, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning target: %w", err)
		}
		result = append(result, &t)
	}
	return result, rows.Err()
}

func (r *ContentRepository) CreateTarget(ctx context.Context, t *content.Target) error {
	query, args, err := psq.Insert("targets").Columns(targetColumns...).
		Values(t.ID, t.Host, t.Description, t.Ports, t.Status, t.CreatedAt).ToSql()
	if err != nil {
		return fmt.Errorf("building insert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting target: %w", err)
	}
	return nil
}

func (r *ContentRepository) DeleteTarget(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM targets WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting target: %w", err)
	}
	return nil
}

func (r *ContentRepository) ListScans(ctx context.Context) ([]*content.Scan, error) {
	query, args, err := psq.Select(scanColumns...).From("scans").OrderBy("created_at DESC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing scans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*content.Scan
	for rows.Next() {
		var s content.Scan
		if err := rows.Scan(&s.ID, &s.TargetID, &s.ScanType, &s.Results, &s.Notes, &s.Status, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning scan: %w", err)
		}
		result = append(result, &s)
	}
	return result, rows.Err()
}

func (r *ContentRepository) CreateScan(ctx context.Context, s *content.Scan) error {
	query, args, err := psq.Insert("scans").Columns(scanColumns...).
		Values(s.ID, s.TargetID, s.ScanType, s.Results, s.Notes, s.Status, s.CreatedAt).ToSql()
	if err != nil {
		return fmt.Errorf("building insert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting scan: %w", err)
	}
	return nil
}

func (r *ContentRepository) UpdateScan(ctx context.Context, id string, u content.ScanUpdate) error {
	set := map[string]any{}
	if u.ScanType != nil {
		set["scan_type"] = *u.ScanType
	}
	if u.Results != nil {
		set["results"] = *u.Results
	}
	if u.Notes != nil {
		set["notes"] = *u.Notes
	}
	if u.Status != nil {
		set["status"] = *u.Status
	}

	if len(set) == 0 {
		n, err := r.count(ctx, psq.Select("COUNT(*)").From("scans").Where(sq.Eq{"id": id}))
		if err != nil {
			return err
		}
		if n == 0 {
			return content.ErrNotFound
		}
		return nil
	}

	query, args, err := psq.Update("scans").SetMap(set).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("building update: %w", err)
	}
	n, err := execAffected(ctx, r.db, query, args...)
	if err != nil {
		return fmt.Errorf("updating scan: %w", err)
	}
	if n == 0 {
		return content.ErrNotFound
	}
	return nil
}

func (r *ContentRepository) ListVulnerabilities(ctx context.Context) ([]*content.Vulnerability, error) {
	query, args, err := psq.Select(vulnColumns...).From("vulnerabilities").OrderBy("cvss DESC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing vulnerabilities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*content.Vulnerability
	for rows.Next() {
		var v content.Vulnerability
		if err := rows.Scan(&v.ID, &v.TargetID, &v.Title, &v.Severity, &v.Description, &v.CVSS, &v.Status, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning vulnerability: %w", err)
		}
		result = append(result, &v)
	}
	return result, rows.Err()
}

func (r *ContentRepository) CreateVulnerability(ctx context.Context, v *content.Vulnerability) error {
	query, args, err := psq.Insert("vulnerabilities").Columns(vulnColumns...).
		Values(v.ID, v.TargetID, v.Title, v.Severity, v.Description, v.CVSS, v.Status, v.CreatedAt).ToSql()
	if err != nil {
		return fmt.Errorf("building insert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting vulnerability: %w", err)
	}
	return nil
}

func (r *ContentRepository) OpenVulnerabilities(ctx context.Context) (int, error) {
	return r.count(ctx, psq.Select("COUNT(*)").From("vulnerabilities").Where(sq.Eq{"status": "open"}))
}

func (r *ContentRepository) count(ctx context.Context, qb sq.SelectBuilder) (int, error) {
	query, args, err := qb.ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count: %w", err)
	}
	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting: %w", err)
	}
	return n, nil
}

var _ content.Repository = (*ContentRepository)(nil)
