package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/schema"
	"github.com/rs/zerolog/log"

	"github.com/assoctools/rolesync/entity"
	"github.com/assoctools/rolesync/service"
)

var decoder = schema.NewDecoder()

func init() {
	decoder.IgnoreUnknownKeys(true)
}

// ReportController serves the latest run report while the reconciler runs
// on an interval.
type ReportController struct {
	ReportService *service.ReportService
}

type reportQuery struct {
	Anomaly string `schema:"anomaly"`
	Format  string `schema:"format"`
}

func (c *ReportController) Report(ctx *gin.Context) {
	var query reportQuery
	if err := decoder.Decode(&query, ctx.Request.URL.Query()); err != nil {
		log.Warn().Err(err).Msg("bad report query")
		ctx.String(http.StatusBadRequest, "bad query")
		return
	}

	report := c.ReportService.Latest()
	if report == nil {
		ctx.String(http.StatusServiceUnavailable, "no completed run yet")
		return
	}

	if query.Anomaly != "" {
		report = c.ReportService.FilterAnomalies(report, entity.AnomalyKind(query.Anomaly))
	}

	if query.Format == "json" {
		ctx.JSON(http.StatusOK, report)
		return
	}
	ctx.String(http.StatusOK, "%s", c.ReportService.Render(report))
}

func (c *ReportController) Health(ctx *gin.Context) {
	ctx.String(http.StatusOK, "ok")
}
