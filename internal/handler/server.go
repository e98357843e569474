package handler

import "github.com/vcscsvcscs/regimen/pkg/api"

// Server implements api.ServerInterface by delegating to the individual handlers
type Server struct {
	*HealthHandler
	*ScheduleHandler
	*AdherenceHandler
	*ReportHandler
}

// NewServer combines the handlers into one api.ServerInterface
func NewServer(health *HealthHandler, schedules *ScheduleHandler, adherence *AdherenceHandler, reports *ReportHandler) *Server {
	return &Server{
		HealthHandler:    health,
		ScheduleHandler:  schedules,
		AdherenceHandler: adherence,
		ReportHandler:    reports,
	}
}

var _ api.ServerInterface = (*Server)(nil)
