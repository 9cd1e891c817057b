package http

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/bulkimport/internal/database"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func() error

// CheckResult is the outcome of one dependency check.
type CheckResult struct {
	Status    string `json:"status"` // "ok" or "error"
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

type HealthResponse struct {
	Status  string                 `json:"status"`
	Time    string                 `json:"time"`
	Version string                 `json:"version,omitempty"`
	Checks  map[string]CheckResult `json:"checks"`
}

type HealthController struct {
	version string
	names   []string
	checks  map[string]HealthCheck
	now     func() time.Time
}

// NewHealthController reports on the job database, when db is non-nil, plus
// any checks added with WithCheck.
func NewHealthController(db *database.Database, version string) *HealthController {
	h := &HealthController{
		version: version,
		checks:  make(map[string]HealthCheck),
		now:     time.Now,
	}
	if db != nil {
		h.WithCheck("database", DatabaseCheck(db))
	}
	return h
}

// DatabaseCheck pings the connection pool behind db.
func DatabaseCheck(db *database.Database) HealthCheck {
	return func() error {
		sqlDB, err := db.DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Ping()
	}
}

// WithCheck adds a named dependency check. Checks run in name order.
func (h *HealthController) WithCheck(name string, check HealthCheck) *HealthController {
	if _, exists := h.checks[name]; !exists {
		h.names = append(h.names, name)
		sort.Strings(h.names)
	}
	h.checks[name] = check
	return h
}

func (h *HealthController) run(check HealthCheck) CheckResult {
	start := h.now()
	err := safeCheck(check)
	res := CheckResult{Status: "ok", LatencyMS: h.now().Sub(start).Milliseconds()}
	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
	}
	return res
}

func safeCheck(check HealthCheck) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("check panicked")
		}
	}()
	return check()
}

// Status handles GET /health. Any failed check makes the service unhealthy
// and the response a 503.
func (h *HealthController) Status(c *gin.Context) {
	resp := HealthResponse{
		Status:  "healthy",
		Time:    h.now().UTC().Format(time.RFC3339),
		Version: h.version,
		Checks:  make(map[string]CheckResult, len(h.names)),
	}
	for _, name := range h.names {
		res := h.run(h.checks[name])
		if res.Status != "ok" {
			resp.Status = "unhealthy"
		}
		resp.Checks[name] = res
	}

	code := http.StatusOK
	if resp.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.IndentedJSON(code, resp)
}
