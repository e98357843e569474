package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/oapi-codegen/runtime"
)

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// Liveness and storage ping
	// (GET /health)
	GetHealth(c *gin.Context)
	// Detect conflicts for a proposed schedule
	// (POST /schedule/check-conflicts)
	PostScheduleCheckConflicts(c *gin.Context)
	// Apply an adjustment to a stored schedule
	// (POST /schedule/adjust)
	PostScheduleAdjust(c *gin.Context)
	// (POST /schedules)
	PostSchedules(c *gin.Context)
	// (GET /schedules/{id})
	GetSchedulesId(c *gin.Context, id string)
	// (PATCH /schedules/{id})
	PatchSchedulesId(c *gin.Context, id string)
	// (POST /schedules/{id}/retire)
	PostSchedulesIdRetire(c *gin.Context, id string)
	// (GET /schedules/{id}/next-dose)
	GetSchedulesIdNextDose(c *gin.Context, id string, params TimeRangeParams)
	// Most recent audit entries of a schedule
	// (GET /schedules/{id}/audit)
	GetSchedulesIdAudit(c *gin.Context, id string, params AuditParams)
	// Record a dose action
	// (POST /schedules/{id}/doses)
	PostSchedulesIdDoses(c *gin.Context, id string)
	// Doses due across a subject's active schedules
	// (GET /subjects/{id}/due)
	GetSubjectsIdDue(c *gin.Context, id string, params TimeRangeParams)
	// (GET /subjects/{id}/adherence)
	GetSubjectsIdAdherence(c *gin.Context, id string, params AdherenceParams)
	// Render and archive an adherence report
	// (POST /subjects/{id}/adherence/report)
	PostSubjectsIdAdherenceReport(c *gin.Context, id string, params AdherenceParams)
	// Download an archived adherence report
	// (GET /reports/{subject}/{file})
	GetReportsSubjectFile(c *gin.Context, subject string, file string)
}

// ServerInterfaceWrapper converts contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler      ServerInterface
	ErrorHandler func(*gin.Context, error, int)
}

func (siw *ServerInterfaceWrapper) bindTimeRange(c *gin.Context) (TimeRangeParams, bool) {
	var params TimeRangeParams
	if err := runtime.BindQueryParameter("form", true, false, "from", c.Request.URL.Query(), &params.From); err != nil {
		siw.ErrorHandler(c, fmt.Errorf("invalid format for parameter from: %w", err), http.StatusBadRequest)
		return params, false
	}
	if err := runtime.BindQueryParameter("form", true, false, "to", c.Request.URL.Query(), &params.To); err != nil {
		siw.ErrorHandler(c, fmt.Errorf("invalid format for parameter to: %w", err), http.StatusBadRequest)
		return params, false
	}
	return params, true
}

func (siw *ServerInterfaceWrapper) bindAdherence(c *gin.Context) (AdherenceParams, bool) {
	var params AdherenceParams
	if err := runtime.BindQueryParameter("form", true, true, "start", c.Request.URL.Query(), &params.Start); err != nil {
		siw.ErrorHandler(c, fmt.Errorf("invalid format for parameter start: %w", err), http.StatusBadRequest)
		return params, false
	}
	if err := runtime.BindQueryParameter("form", true, true, "end", c.Request.URL.Query(), &params.End); err != nil {
		siw.ErrorHandler(c, fmt.Errorf("invalid format for parameter end: %w", err), http.StatusBadRequest)
		return params, false
	}
	return params, true
}

// GetSchedulesIdNextDose operation middleware
func (siw *ServerInterfaceWrapper) GetSchedulesIdNextDose(c *gin.Context) {
	params, ok := siw.bindTimeRange(c)
	if !ok {
		return
	}
	siw.Handler.GetSchedulesIdNextDose(c, c.Param("id"), params)
}

// GetSchedulesIdAudit operation middleware
func (siw *ServerInterfaceWrapper) GetSchedulesIdAudit(c *gin.Context) {
	var params AuditParams
	if err := runtime.BindQueryParameter("form", true, false, "limit", c.Request.URL.Query(), &params.Limit); err != nil {
		siw.ErrorHandler(c, fmt.Errorf("invalid format for parameter limit: %w", err), http.StatusBadRequest)
		return
	}
	siw.Handler.GetSchedulesIdAudit(c, c.Param("id"), params)
}

// GetReportsSubjectFile operation middleware
func (siw *ServerInterfaceWrapper) GetReportsSubjectFile(c *gin.Context) {
	siw.Handler.GetReportsSubjectFile(c, c.Param("subject"), c.Param("file"))
}

// GetSubjectsIdDue operation middleware
func (siw *ServerInterfaceWrapper) GetSubjectsIdDue(c *gin.Context) {
	params, ok := siw.bindTimeRange(c)
	if !ok {
		return
	}
	siw.Handler.GetSubjectsIdDue(c, c.Param("id"), params)
}

// GetSubjectsIdAdherence operation middleware
func (siw *ServerInterfaceWrapper) GetSubjectsIdAdherence(c *gin.Context) {
	params, ok := siw.bindAdherence(c)
	if !ok {
		return
	}
	siw.Handler.GetSubjectsIdAdherence(c, c.Param("id"), params)
}

// PostSubjectsIdAdherenceReport operation middleware
func (siw *ServerInterfaceWrapper) PostSubjectsIdAdherenceReport(c *gin.Context) {
	params, ok := siw.bindAdherence(c)
	if !ok {
		return
	}
	siw.Handler.PostSubjectsIdAdherenceReport(c, c.Param("id"), params)
}

// RegisterHandlers creates http.Handler with routing matching the API.
func RegisterHandlers(router gin.IRouter, si ServerInterface) {
	RegisterHandlersWithOptions(router, si, nil)
}

// RegisterHandlersWithOptions registers the routes with a custom parameter error handler.
func RegisterHandlersWithOptions(router gin.IRouter, si ServerInterface, errorHandler func(*gin.Context, error, int)) {
	if errorHandler == nil {
		errorHandler = func(c *gin.Context, err error, statusCode int) {
			details := err.Error()
			c.JSON(statusCode, ErrorResponse{Code: CodeValidation, Message: "Invalid query parameter", Details: &details})
		}
	}

	wrapper := ServerInterfaceWrapper{
		Handler:      si,
		ErrorHandler: errorHandler,
	}

	withID := func(h func(*gin.Context, string)) gin.HandlerFunc {
		return func(c *gin.Context) { h(c, c.Param("id")) }
	}

	router.GET("/health", si.GetHealth)
	router.POST("/schedule/check-conflicts", si.PostScheduleCheckConflicts)
	router.POST("/schedule/adjust", si.PostScheduleAdjust)
	router.POST("/schedules", si.PostSchedules)
	router.GET("/schedules/:id", withID(si.GetSchedulesId))
	router.PATCH("/schedules/:id", withID(si.PatchSchedulesId))
	router.POST("/schedules/:id/retire", withID(si.PostSchedulesIdRetire))
	router.GET("/schedules/:id/next-dose", wrapper.GetSchedulesIdNextDose)
	router.GET("/schedules/:id/audit", wrapper.GetSchedulesIdAudit)
	router.POST("/schedules/:id/doses", withID(si.PostSchedulesIdDoses))
	router.GET("/subjects/:id/due", wrapper.GetSubjectsIdDue)
	router.GET("/subjects/:id/adherence", wrapper.GetSubjectsIdAdherence)
	router.POST("/subjects/:id/adherence/report", wrapper.PostSubjectsIdAdherenceReport)
	router.GET("/reports/:subject/:file", wrapper.GetReportsSubjectFile)
}
