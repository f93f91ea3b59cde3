package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/lucasdeangeli4scale/disparaai/pkg/logging"
)

type instanceStatus interface {
	InstanceStatus(ctx context.Context) (string, error)
}

// Check is a named dependency probe such as a database ping.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// HealthHandler reports the WhatsApp instance state and dependency probes.
type HealthHandler struct {
	gateway instanceStatus
	checks  []Check
	timeout time.Duration
	logger  *logging.Logger
}

func NewHealthHandler(gateway instanceStatus, logger *logging.Logger, checks ...Check) *HealthHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &HealthHandler{gateway: gateway, checks: checks, timeout: 3 * time.Second, logger: logger}
}

type healthResponse struct {
	Status   string            `json:"status"`
	WhatsApp string            `json:"whatsapp"`
	Checks   map[string]string `json:"checks,omitempty"`
}

// Health answers 200 when every probe passes and 503 otherwise. A WhatsApp
// instance that is not "open" degrades the status without failing it.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := healthResponse{Status: "ok", WhatsApp: "unknown"}
	code := http.StatusOK
	if h.gateway != nil {
		state, err := h.gateway.InstanceStatus(ctx)
		switch {
		case err != nil:
			h.logger.Warn("whatsapp status check failed", "error", err)
			resp.WhatsApp = "unreachable"
			resp.Status = "degraded"
		case state != "open":
			resp.WhatsApp = state
			resp.Status = "degraded"
		default:
			resp.WhatsApp = state
		}
	}
	for _, c := range h.checks {
		if resp.Checks == nil {
			resp.Checks = make(map[string]string, len(h.checks))
		}
		if err := c.Probe(ctx); err != nil {
			h.logger.Error("health check failed", "check", c.Name, "error", err)
			resp.Checks[c.Name] = "error"
			resp.Status = "unhealthy"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[c.Name] = "ok"
	}
	writeJSON(w, code, resp)
}
