package handlers

import (
	"net/http"

	"github.com/gluk-w/shellpilot/internal/database"
)

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disconnected"
	if database.DB != nil {
		sqlDB, err := database.DB.DB()
		if err == nil {
			if err := sqlDB.Ping(); err == nil {
				dbStatus = "connected"
			}
		}
	}

	status := "healthy"
	if dbStatus != "connected" {
		status = "unhealthy"
	}

	sessions := 0
	if Sessions != nil {
		sessions = Sessions.Count()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        status,
		"database":      dbStatus,
		"shell_sessions": sessions,
	})
}
