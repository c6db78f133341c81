package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/jmylchreest/vidsift/internal/database"
	"github.com/jmylchreest/vidsift/internal/orchestrator"
	"github.com/jmylchreest/vidsift/internal/scheduler"
	"github.com/jmylchreest/vidsift/pkg/httpclient"
)

// slowDatabaseThreshold marks a ping as slow in health output.
const slowDatabaseThreshold = 100 * time.Millisecond

// DatabaseChecker is the part of the database the health check uses.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
	Stats() (database.PoolStats, error)
}

// Pinger is a dependency checked only for reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatusSource reports the orchestrator status.
type StatusSource interface {
	Status() orchestrator.Status
}

// EntrySource lists scheduled maintenance jobs.
type EntrySource interface {
	Entries() []scheduler.Entry
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version   string
	startTime time.Time
	db        DatabaseChecker
	jobStore  Pinger
	breakers  *httpclient.Registry
	status    StatusSource
	schedule  EntrySource
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithDB sets the database used for health checks.
func (h *HealthHandler) WithDB(db DatabaseChecker) *HealthHandler {
	h.db = db
	return h
}

// WithJobStore adds a job store kept outside the database to the checks.
func (h *HealthHandler) WithJobStore(p Pinger) *HealthHandler {
	h.jobStore = p
	return h
}

// WithBreakers sets the registry of outbound clients whose breakers are reported.
func (h *HealthHandler) WithBreakers(registry *httpclient.Registry) *HealthHandler {
	h.breakers = registry
	return h
}

// WithAutomation sets the orchestrator status source.
func (h *HealthHandler) WithAutomation(status StatusSource) *HealthHandler {
	h.status = status
	return h
}

// WithScheduler sets the maintenance scheduler.
func (h *HealthHandler) WithScheduler(s EntrySource) *HealthHandler {
	h.schedule = s
	return h
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service including system metrics",
		Tags:        []string{"System"},
	}, h.GetHealth)

	huma.Register(api, huma.Operation{
		OperationID: "getLivez",
		Method:      "GET",
		Path:        "/livez",
		Summary:     "Liveness probe",
		Tags:        []string{"System"},
	}, h.GetLivez)

	huma.Register(api, huma.Operation{
		OperationID: "getReadyz",
		Method:      "GET",
		Path:        "/readyz",
		Summary:     "Readiness probe",
		Description: "Reports ready once the database answers",
		Tags:        []string{"System"},
	}, h.GetReadyz)
}

// HealthResponse is the full health report.
type HealthResponse struct {
	Status        string            `json:"status"`
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	Uptime        string            `json:"uptime"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	CPUInfo       CPUInfo           `json:"cpu_info"`
	Memory        MemoryInfo        `json:"memory"`
	Components    HealthComponents  `json:"components"`
	Checks        map[string]string `json:"checks"`
}

// CPUInfo describes host load.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo describes host and process memory.
type MemoryInfo struct {
	TotalMemoryMB     float64           `json:"total_memory_mb"`
	UsedMemoryMB      float64           `json:"used_memory_mb"`
	AvailableMemoryMB float64           `json:"available_memory_mb"`
	SwapTotalMB       float64           `json:"swap_total_mb"`
	SwapUsedMB        float64           `json:"swap_used_mb"`
	ProcessMemory     ProcessMemoryInfo `json:"process_memory"`
}

// ProcessMemoryInfo describes this process and its children, which include
// locally launched workers.
type ProcessMemoryInfo struct {
	MainProcessMB      float64 `json:"main_process_mb"`
	ChildProcessesMB   float64 `json:"child_processes_mb"`
	TotalProcessTreeMB float64 `json:"total_process_tree_mb"`
	ChildProcessCount  int     `json:"child_process_count"`
	PercentageOfSystem float64 `json:"percentage_of_system"`
}

// HealthComponents reports each dependency.
type HealthComponents struct {
	Database        DatabaseHealth                    `json:"database"`
	JobStore        *JobStoreHealth                   `json:"job_store,omitempty"`
	Automation      AutomationHealth                  `json:"automation"`
	Scheduler       SchedulerHealth                   `json:"scheduler"`
	CircuitBreakers []httpclient.CircuitBreakerStatus `json:"circuit_breakers"`
}

// DatabaseHealth reports database reachability.
type DatabaseHealth struct {
	Status             string              `json:"status"`
	ResponseTimeMS     float64             `json:"response_time_ms"`
	ResponseTimeStatus string              `json:"response_time_status"`
	Pool               *database.PoolStats `json:"pool,omitempty"`
}

// JobStoreHealth reports reachability of an external job store.
type JobStoreHealth struct {
	Status         string  `json:"status"`
	ResponseTimeMS float64 `json:"response_time_ms"`
}

// AutomationHealth summarises the orchestrator.
type AutomationHealth struct {
	Status    string `json:"status"`
	Phase     string `json:"phase"`
	RunID     string `json:"run_id,omitempty"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

// SchedulerHealth lists maintenance jobs.
type SchedulerHealth struct {
	Status string            `json:"status"`
	Jobs   []scheduler.Entry `json:"jobs"`
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	dbHealth := h.getDatabaseHealth(ctx)
	automation := h.getAutomationHealth()
	sched := h.getSchedulerHealth()

	breakers := []httpclient.CircuitBreakerStatus{}
	if h.breakers != nil {
		breakers = h.breakers.Statuses()
	}

	status := "healthy"
	if dbHealth.Status == "error" {
		status = "degraded"
	}
	checks := map[string]string{
		"database":   dbHealth.Status,
		"automation": automation.Status,
		"scheduler":  sched.Status,
	}

	var jobStore *JobStoreHealth
	if h.jobStore != nil {
		js := h.getJobStoreHealth(ctx)
		jobStore = &js
		checks["job_store"] = js.Status
		if js.Status == "error" {
			status = "degraded"
		}
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:        status,
			Timestamp:     now.UTC().Format(time.RFC3339),
			Version:       h.version,
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			CPUInfo:       getCPUInfo(),
			Memory:        getMemoryInfo(),
			Components: HealthComponents{
				Database:        dbHealth,
				JobStore:        jobStore,
				Automation:      automation,
				Scheduler:       sched,
				CircuitBreakers: breakers,
			},
			Checks: checks,
		},
	}, nil
}

// LivezInput is the input for the liveness probe.
type LivezInput struct{}

// LivezOutput is the output for the liveness probe.
type LivezOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// GetLivez reports that the process is serving requests.
func (h *HealthHandler) GetLivez(_ context.Context, _ *LivezInput) (*LivezOutput, error) {
	resp := &LivezOutput{}
	resp.Body.Status = "ok"
	return resp, nil
}

// ReadyzInput is the input for the readiness probe.
type ReadyzInput struct{}

// ReadyzOutput is the output for the readiness probe.
type ReadyzOutput struct {
	Body struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
}

// GetReadyz reports whether dependencies are usable.
func (h *HealthHandler) GetReadyz(ctx context.Context, _ *ReadyzInput) (*ReadyzOutput, error) {
	resp := &ReadyzOutput{}
	resp.Body.Components = map[string]string{
		"database":   "not_configured",
		"automation": h.getAutomationHealth().Status,
		"scheduler":  h.getSchedulerHealth().Status,
	}
	resp.Body.Status = "not_ready"

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			resp.Body.Components["database"] = "error"
		} else {
			resp.Body.Components["database"] = "ok"
			resp.Body.Status = "ready"
		}
	}
	if h.jobStore != nil {
		resp.Body.Components["job_store"] = "ok"
		if err := h.jobStore.Ping(ctx); err != nil {
			resp.Body.Components["job_store"] = "error"
			resp.Body.Status = "not_ready"
		}
	}
	return resp, nil
}

func (h *HealthHandler) getJobStoreHealth(ctx context.Context) JobStoreHealth {
	start := time.Now()
	err := h.jobStore.Ping(ctx)
	js := JobStoreHealth{
		Status:         "ok",
		ResponseTimeMS: float64(time.Since(start).Microseconds()) / 1000,
	}
	if err != nil {
		js.Status = "error"
	}
	return js
}

func getCPUInfo() CPUInfo {
	cores := runtime.NumCPU()
	info := CPUInfo{Cores: cores}

	loadAvg, err := load.Avg()
	if err == nil && loadAvg != nil {
		info.Load1Min = loadAvg.Load1
		info.Load5Min = loadAvg.Load5
		info.Load15Min = loadAvg.Load15
		if cores > 0 {
			info.LoadPercentage1Min = (loadAvg.Load1 / float64(cores)) * 100
		}
	}
	return info
}

func getMemoryInfo() MemoryInfo {
	info := MemoryInfo{}

	if vmStat, err := mem.VirtualMemory(); err == nil && vmStat != nil {
		info.TotalMemoryMB = toMB(vmStat.Total)
		info.UsedMemoryMB = toMB(vmStat.Used)
		info.AvailableMemoryMB = toMB(vmStat.Available)
	}
	if swapStat, err := mem.SwapMemory(); err == nil && swapStat != nil {
		info.SwapTotalMB = toMB(swapStat.Total)
		info.SwapUsedMB = toMB(swapStat.Used)
	}

	info.ProcessMemory = getProcessMemoryInfo(info.TotalMemoryMB)
	return info
}

func getProcessMemoryInfo(totalSystemMB float64) ProcessMemoryInfo {
	info := ProcessMemoryInfo{}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return info
	}

	if memInfo, err := proc.MemoryInfo(); err == nil && memInfo != nil {
		info.MainProcessMB = toMB(memInfo.RSS)
		info.TotalProcessTreeMB = info.MainProcessMB
		if totalSystemMB > 0 {
			info.PercentageOfSystem = (info.MainProcessMB / totalSystemMB) * 100
		}
	}

	// Children() errors when there are none.
	children, err := proc.Children()
	if err == nil {
		info.ChildProcessCount = len(children)
		for _, child := range children {
			if childMem, err := child.MemoryInfo(); err == nil && childMem != nil {
				mb := toMB(childMem.RSS)
				info.ChildProcessesMB += mb
				info.TotalProcessTreeMB += mb
			}
		}
	}
	return info
}

func toMB(b uint64) float64 {
	return float64(b) / 1024 / 1024
}

func (h *HealthHandler) getDatabaseHealth(ctx context.Context) DatabaseHealth {
	if h.db == nil {
		return DatabaseHealth{Status: "unknown", ResponseTimeStatus: "unknown"}
	}

	health := DatabaseHealth{Status: "ok", ResponseTimeStatus: "healthy"}
	if stats, err := h.db.Stats(); err == nil {
		health.Pool = &stats
	}

	start := time.Now()
	err := h.db.Ping(ctx)
	elapsed := time.Since(start)
	health.ResponseTimeMS = float64(elapsed.Microseconds()) / 1000

	switch {
	case err != nil:
		health.Status = "error"
		health.ResponseTimeStatus = "error"
	case elapsed > slowDatabaseThreshold:
		health.ResponseTimeStatus = "slow"
	}
	return health
}

func (h *HealthHandler) getAutomationHealth() AutomationHealth {
	if h.status == nil {
		return AutomationHealth{Status: "not_configured"}
	}
	st := h.status.Status()
	return AutomationHealth{
		Status:    "ok",
		Phase:     string(st.Phase),
		RunID:     st.RunID,
		Completed: st.Summary.VideosCompleted,
		Total:     st.TotalCount,
	}
}

func (h *HealthHandler) getSchedulerHealth() SchedulerHealth {
	if h.schedule == nil {
		return SchedulerHealth{Status: "disabled", Jobs: []scheduler.Entry{}}
	}
	return SchedulerHealth{Status: "ok", Jobs: h.schedule.Entries()}
}
