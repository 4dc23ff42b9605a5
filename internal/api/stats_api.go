package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/rentfolio/go-push-service/internal/stats"
)

type StatsAPI struct {
	Reporter *stats.Reporter
	Logger   *slog.Logger
}

func NewStatsAPI(reporter *stats.Reporter, logger *slog.Logger) *StatsAPI {
	return &StatsAPI{Reporter: reporter, Logger: logger}
}

// Stats handles GET /api/v1/stats?window_days=N.
func (a *StatsAPI) Stats(w http.ResponseWriter, r *http.Request) {
	windowDays := 0
	if raw := r.URL.Query().Get("window_days"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			windowDays = parsed
		}
	}

	report, err := a.Reporter.Report(r.Context(), windowDays)
	if err != nil {
		writeDomainError(w, a.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
