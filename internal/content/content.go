// Package content holds the plain keyed records served or tracked by the
// console: pages, alerts, targets, scans and vulnerabilities. None of them
// carry a state machine; they are created, listed, updated and deleted.
package content

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Alert severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert types raised by the server itself.
const (
	AlertVisitor = "visitor"
	AlertSystem  = "system"
)

type Page struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PageSummary is a page without its content, used for listings.
type PageSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *Page) Summary() PageSummary {
	return PageSummary{
		ID:        p.ID,
		Name:      p.Name,
		IsDefault: p.IsDefault,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

// PageUpdate carries optional page fields. Nil fields are left untouched.
type PageUpdate struct {
	Name      *string `json:"name"`
	Content   *string `json:"content"`
	IsDefault *bool   `json:"is_default"`
}

type Alert struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

type Target struct {
	ID          string    `json:"id"`
	Host        string    `json:"host"`
	Description string    `json:"description"`
	Ports       string    `json:"ports"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

type Scan struct {
	ID        string    `json:"id"`
	TargetID  string    `json:"target_id"`
	ScanType  string    `json:"scan_type"`
	Results   string    `json:"results"`
	Notes     string    `json:"notes"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// ScanUpdate carries optional scan fields. Nil fields are left untouched.
type ScanUpdate struct {
	ScanType *string `json:"scan_type"`
	Results  *string `json:"results"`
	Notes    *string `json:"notes"`
	Status   *string `json:"status"`
}

type Vulnerability struct {
	ID          string    `json:"id"`
	TargetID    string    `json:"target_id"`
	Title       string    `json:"title"`
	Severity    string    `json:"severity"`
	Description string    `json:"description"`
	CVSS        float64   `json:"cvss"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Repository is the record store behind the console. Implementations must
// be safe for concurrent use.
type Repository interface {
	// GetPage returns ErrNotFound when the page does not exist.
	GetPage(ctx context.Context, id string) (*Page, error)
	// DefaultPage returns nil, nil when no page is marked default.
	DefaultPage(ctx context.Context) (*Page, error)
	// ListPages returns pages newest first.
	ListPages(ctx context.Context) ([]*Page, error)
	// CreatePage stores p. If p.IsDefault, every other page loses the flag.
	CreatePage(ctx context.Context, p *Page) error
	UpdatePage(ctx context.Context, id string, u PageUpdate, at time.Time) error
	// DeletePage is a no-op when the page does not exist.
	DeletePage(ctx context.Context, id string) error

	CreateAlert(ctx context.Context, a *Alert) error
	// ListAlerts returns alerts newest first, at most limit entries.
	ListAlerts(ctx context.Context, limit int) ([]*Alert, error)
	MarkAlertRead(ctx context.Context, id string) error
	MarkAllAlertsRead(ctx context.Context) error
	ClearAlerts(ctx context.Context) error
	UnreadAlerts(ctx context.Context) (int, error)

	ListTargets(ctx context.Context) ([]*Target, error)
	CreateTarget(ctx context.Context, t *Target) error
	DeleteTarget(ctx context.Context, id string) error

	ListScans(ctx context.Context) ([]*Scan, error)
	CreateScan(ctx context.Context, s *Scan) error
	UpdateScan(ctx context.Context, id string, u ScanUpdate) error

	// ListVulnerabilities returns vulnerabilities by descending CVSS score.
	ListVulnerabilities(ctx context.Context) ([]*Vulnerability, error)
	CreateVulnerability(ctx context.Context, v *Vulnerability) error
	OpenVulnerabilities(ctx context.Context) (int, error)
}
