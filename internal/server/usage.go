package server

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	usagedomain "github.com/tallyhq/tally/internal/usage/domain"
)

const (
	reportDefaultLimit = 500
	reportMaxLimit     = 5000
	reportDefaultSpan  = 30 * 24 * time.Hour
)

// UsageReport returns a user's usage over a period, aggregated per operation,
// as JSON or CSV.
func (s *Server) UsageReport(c *gin.Context) {
	c.Set("operation", "usage.report")

	userID := s.currentUserID(c)
	ctx := c.Request.Context()

	now := time.Now().UTC()
	from := parseTimeParam(c.Query("start"), now.Add(-reportDefaultSpan))
	to := parseTimeParam(c.Query("end"), now)

	limit := reportDefaultLimit
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > reportMaxLimit {
		limit = reportMaxLimit
	}

	logs, err := s.usageSvc.List(ctx, usagedomain.ListFilter{
		UserID: userID,
		From:   from,
		To:     to,
		Limit:  limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if c.Query("format") == "csv" {
		writeUsageCSV(c, logs)
		return
	}

	report, err := s.usageSvc.Report(ctx, userID, from, to)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var totalCalls, totalUnits int64
	for _, row := range report.Rows {
		totalCalls += row.Events
		totalUnits += row.TotalUnits
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"range":   gin.H{"start": from, "end": to},
		"limit":   limit,
		"summary": gin.H{
			"total_calls": totalCalls,
			"total_units": totalUnits,
			"total_cost":  report.TotalCost,
		},
		"by_operation": report.Rows,
		"logs":         logs,
	})
}

func parseTimeParam(raw string, fallback time.Time) time.Time {
	if raw == "" {
		return fallback
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return fallback
	}
	return parsed.UTC()
}

func writeUsageCSV(c *gin.Context, logs []usagedomain.UsageLog) {
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Cache-Control", "no-store")
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{"id", "operation", "units", "unit_price", "total_cost", "created_at"})
	for _, l := range logs {
		_ = w.Write([]string{
			l.ID.String(),
			l.Operation,
			strconv.FormatInt(l.Units, 10),
			strconv.FormatFloat(l.UnitPrice, 'f', -1, 64),
			strconv.FormatInt(l.TotalCost, 10),
			l.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	w.Flush()
}
