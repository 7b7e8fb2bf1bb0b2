package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"callcenter/internal/reporting"

	"github.com/gin-gonic/gin"
)

func parseRangeQuery(c *gin.Context) (reporting.TimeRange, int64, bool) {
	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		badRequest(c, "from must be RFC 3339")
		return reporting.TimeRange{}, 0, false
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		badRequest(c, "to must be RFC 3339")
		return reporting.TimeRange{}, 0, false
	}
	var callerID int64
	if v := c.Query("caller_id"); v != "" {
		callerID, err = strconv.ParseInt(v, 10, 64)
		if err != nil || callerID <= 0 {
			badRequest(c, "caller_id must be a positive integer")
			return reporting.TimeRange{}, 0, false
		}
	}
	return reporting.TimeRange{From: from.UTC(), To: to.UTC()}, callerID, true
}

// CallsReport RBAC: manager or admin.
func (h Handlers) CallsReport(c *gin.Context) {
	r, callerID, ok := parseRangeQuery(c)
	if !ok {
		return
	}
	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{Range: r, CallerID: callerID})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// ConversionsReport RBAC: manager or admin.
func (h Handlers) ConversionsReport(c *gin.Context) {
	r, callerID, ok := parseRangeQuery(c)
	if !ok {
		return
	}
	out, err := h.Reports.ConversionMetrics(c.Request.Context(), reporting.ConversionMetricsRequest{Range: r, CallerID: callerID})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
