package server

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/sentinel-invest/internal/database"
	"github.com/aristath/sentinel-invest/internal/httputil"
	"github.com/aristath/sentinel-invest/internal/scheduler"
)

// JobLister reports scheduled jobs
type JobLister interface {
	Entries() []scheduler.EntryStatus
}

// ClientCounter reports connected stream clients
type ClientCounter interface {
	Clients() int
}

// HealthResponse is returned by /health
type HealthResponse struct {
	Status    string            `json:"status"`
	Databases map[string]string `json:"databases"`
}

// SystemStatusResponse describes the running process and its host
type SystemStatusResponse struct {
	Status        string                  `json:"status"`
	Version       string                  `json:"version"`
	UptimeSeconds float64                 `json:"uptime_seconds"`
	Goroutines    int                     `json:"goroutines"`
	CPUPercent    float64                 `json:"cpu_percent"`
	MemoryPercent float64                 `json:"memory_percent"`
	Disk          *DiskUsage              `json:"disk,omitempty"`
	Databases     []database.Stats        `json:"databases"`
	Jobs          []scheduler.EntryStatus `json:"jobs"`
	StreamClients int                     `json:"stream_clients"`
}

// DiskUsage describes the filesystem holding the data directory
type DiskUsage struct {
	Path        string  `json:"path"`
	TotalMB     float64 `json:"total_mb"`
	FreeMB      float64 `json:"free_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// SystemHandlers serves health and status endpoints
type SystemHandlers struct {
	databases []*database.DB
	dataDir   string
	version   string
	jobs      JobLister
	clients   ClientCounter
	started   time.Time
	log       zerolog.Logger
}

// NewSystemHandlers creates system handlers. jobs and clients may be nil.
func NewSystemHandlers(
	databases []*database.DB,
	dataDir string,
	version string,
	jobs JobLister,
	clients ClientCounter,
	log zerolog.Logger,
) *SystemHandlers {
	return &SystemHandlers{
		databases: databases,
		dataDir:   dataDir,
		version:   version,
		jobs:      jobs,
		clients:   clients,
		started:   time.Now(),
		log:       log.With().Str("handler", "system").Logger(),
	}
}

// HandleHealth pings every database. 503 when any is unreachable.
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "healthy", Databases: make(map[string]string, len(h.databases))}
	status := http.StatusOK
	for _, db := range h.databases {
		if err := db.Conn().PingContext(ctx); err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Database ping failed")
			resp.Databases[db.Name()] = "unavailable"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Databases[db.Name()] = "ok"
	}

	httputil.WriteJSON(w, h.log, status, resp)
}

// HandleSystemStatus returns process, host, database and job status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := h.getSystemStats()

	resp := SystemStatusResponse{
		Status:        "healthy",
		Version:       h.version,
		UptimeSeconds: time.Since(h.started).Seconds(),
		Goroutines:    runtime.NumGoroutine(),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		Disk:          h.diskUsage(),
		Databases:     make([]database.Stats, 0, len(h.databases)),
		Jobs:          []scheduler.EntryStatus{},
	}

	for _, db := range h.databases {
		stats, err := db.GetStats()
		if err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to read database stats")
			resp.Status = "degraded"
			continue
		}
		resp.Databases = append(resp.Databases, *stats)
	}
	if h.jobs != nil {
		resp.Jobs = h.jobs.Entries()
	}
	if h.clients != nil {
		resp.StreamClients = h.clients.Clients()
	}

	httputil.WriteJSON(w, h.log, http.StatusOK, resp)
}

// getSystemStats samples CPU over 100ms and reads memory usage
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(cpuPercent) == 0 {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return cpuPercent[0], 0
	}

	return cpuPercent[0], memStat.UsedPercent
}

func (h *SystemHandlers) diskUsage() *DiskUsage {
	if h.dataDir == "" {
		return nil
	}
	usage, err := disk.Usage(h.dataDir)
	if err != nil {
		h.log.Warn().Err(err).Str("path", h.dataDir).Msg("Failed to get disk usage")
		return nil
	}
	return &DiskUsage{
		Path:        h.dataDir,
		TotalMB:     float64(usage.Total) / 1024 / 1024,
		FreeMB:      float64(usage.Free) / 1024 / 1024,
		UsedPercent: usage.UsedPercent,
	}
}
