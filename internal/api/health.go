package api

import (
	"net/http"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

type processStats struct {
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
	Threads    int32   `json:"threads"`
}

type healthResponse struct {
	Status        string        `json:"status"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	Goroutines    int           `json:"goroutines"`
	Observers     int           `json:"observers"`
	Visitors      int           `json:"visitor_connections"`
	Process       *processStats `json:"process,omitempty"`
}

type statsResponse struct {
	Visitors struct {
		Online  int `json:"online"`
		Pending int `json:"pending"`
	} `json:"visitors"`
	Pentest struct {
		Vulnerabilities int `json:"vulnerabilities"`
	} `json:"pentest"`
	Alerts struct {
		Unread int `json:"unread"`
	} `json:"alerts"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		UptimeSeconds: int64(s.now().Sub(s.started).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
		Process:       s.processStats(),
	}
	if s.connections != nil {
		resp.Observers = s.connections.ObserverCount()
		resp.Visitors = s.connections.VisitorCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

// processStats reads this process's resource usage. Nil when the platform
// does not expose it.
func (s *Server) processStats() *processStats {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		s.log.Debug("process stats unavailable", zap.Error(err))
		return nil
	}
	var ps processStats
	if mem, err := p.MemoryInfo(); err == nil {
		ps.RSSBytes = mem.RSS
	}
	if cpu, err := p.CPUPercent(); err == nil {
		ps.CPUPercent = cpu
	}
	if n, err := p.NumThreads(); err == nil {
		ps.Threads = n
	}
	return &ps
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vs, err := s.machine.Stats(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	open, err := s.content.OpenVulnerabilities(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	unread, err := s.content.UnreadAlerts(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var resp statsResponse
	resp.Visitors.Online = vs.Online
	resp.Visitors.Pending = vs.Pending
	resp.Pentest.Vulnerabilities = open
	resp.Alerts.Unread = unread
	writeJSON(w, http.StatusOK, resp)
}
