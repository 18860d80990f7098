package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gluk-w/shellpilot/internal/database"
)

// GetSettings returns the runtime-tunable settings. Admin only.
func GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"command_log_retention_days": database.CommandLogRetentionDays(),
	})
}

// UpdateSettings persists setting overrides. Admin only.
func UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CommandLogRetentionDays *int `json:"command_log_retention_days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.CommandLogRetentionDays != nil {
		if *req.CommandLogRetentionDays < 0 {
			writeError(w, http.StatusBadRequest, "Retention days cannot be negative")
			return
		}
		if err := database.SetSetting(database.SettingCommandLogRetentionDays, strconv.Itoa(*req.CommandLogRetentionDays)); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to save setting")
			return
		}
	}

	GetSettings(w, r)
}
