// Package mock produces synthetic visitor traffic for working on the
// console without real visitors.
package mock

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/holdroom/backend/internal/content"
	"github.com/holdroom/backend/internal/session"
)

const (
	defaultInterval    = 3 * time.Second
	defaultMaxVisitors = 25
	initialWave        = 3
)

type Registrar interface {
	Register(ctx context.Context, reg session.Registration) (*session.Visitor, error)
}

type PageStore interface {
	ListPages(ctx context.Context) ([]*content.Page, error)
	CreatePage(ctx context.Context, p *content.Page) error
}

type profile struct {
	userAgent string
	width     int
	height    int
	timezone  string
	languages string
}

var profiles = []profile{
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36", 1920, 1080, "Europe/Berlin", "de-DE,de,en"},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15", 1512, 982, "America/New_York", "en-US,en"},
	{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E148", 390, 844, "Europe/London", "en-GB,en"},
	{"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0", 2560, 1440, "Europe/Paris", "fr-FR,fr,en"},
	{"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Mobile Safari/537.36", 412, 915, "Asia/Tokyo", "ja-JP,ja"},
	{"python-requests/2.31.0", 0, 0, "", ""},
	{"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) HeadlessChrome/124.0 Safari/537.36", 800, 600, "UTC", "en-US"},
	{"curl/8", 0, 0, "", ""},
}

// Documentation address blocks; none of them resolve to a real location.
var networks = []string{"192.0.2", "198.51.100", "203.0.113"}

var demoPages = []struct{ name, body string }{
	{"Please wait", "<h1>One moment</h1><p>Your request is being reviewed.</p>"},
	{"Welcome", "<h1>Welcome</h1><p>Access granted.</p>"},
	{"Maintenance", "<h1>Maintenance</h1><p>We will be back shortly.</p>"},
}

type Generator struct {
	registrar   Registrar
	pages       PageStore
	interval    time.Duration
	maxVisitors int
	rng         *rand.Rand
	log         *zap.Logger

	registered int
}

func NewGenerator(registrar Registrar, pages PageStore, log *zap.Logger) *Generator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Generator{
		registrar:   registrar,
		pages:       pages,
		interval:    defaultInterval,
		maxVisitors: defaultMaxVisitors,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		log:         log,
	}
}

// Start seeds demo pages into an empty repository, registers a first wave
// of visitors synchronously and then trickles in the rest until
// maxVisitors is reached or ctx is cancelled.
func (g *Generator) Start(ctx context.Context) error {
	if err := g.seedPages(ctx); err != nil {
		return err
	}
	for i := 0; i < initialWave && g.registered < g.maxVisitors; i++ {
		g.registerNext(ctx)
	}
	go g.run(ctx)
	return nil
}

func (g *Generator) run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for g.registered < g.maxVisitors {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.registerNext(ctx)
		}
	}
}

func (g *Generator) seedPages(ctx context.Context) error {
	existing, err := g.pages.ListPages(ctx)
	if err != nil {
		return fmt.Errorf("listing pages: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	now := time.Now()
	for i, p := range demoPages {
		err := g.pages.CreatePage(ctx, &content.Page{
			ID:        uuid.NewString(),
			Name:      p.name,
			Content:   p.body,
			IsDefault: i == 0,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return fmt.Errorf("seeding page %q: %w", p.name, err)
		}
	}
	g.log.Info("seeded demo pages", zap.Int("count", len(demoPages)))
	return nil
}

func (g *Generator) registerNext(ctx context.Context) {
	g.registered++
	reg := g.registration(g.registered)
	if _, err := g.registrar.Register(ctx, reg); err != nil {
		g.log.Warn("mock registration failed", zap.String("session_id", reg.SessionID), zap.Error(err))
	}
}

func (g *Generator) registration(n int) session.Registration {
	p := profiles[g.rng.Intn(len(profiles))]
	return session.Registration{
		SessionID:    fmt.Sprintf("mock-%03d", n),
		IP:           fmt.Sprintf("%s.%d", networks[g.rng.Intn(len(networks))], 1+g.rng.Intn(254)),
		UserAgent:    p.userAgent,
		ScreenWidth:  p.width,
		ScreenHeight: p.height,
		Timezone:     p.timezone,
		Languages:    p.languages,
	}
}
