package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/gluk-w/shellpilot/internal/database"
	"github.com/gluk-w/shellpilot/internal/middleware"
	"github.com/gluk-w/shellpilot/internal/secrets"
)

type serverResponse struct {
	ID          uint   `json:"id"`
	GroupID     *uint  `json:"group_id,omitempty"`
	Name        string `json:"name"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Username    string `json:"username"`
	AuthMethod  string `json:"auth_method"`
	HasSecret   bool   `json:"has_secret"`
	BastionHost string `json:"bastion_host,omitempty"`
}

// ListServers returns the server records visible to the requesting user.
// Secrets never leave the database; the response only says whether one
// is stored.
func ListServers(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	servers, err := database.ListServersForUser(userID(user), isAdmin(user))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list servers")
		return
	}

	resp := make([]serverResponse, len(servers))
	for i, s := range servers {
		resp[i] = serverResponse{
			ID:          s.ID,
			GroupID:     s.GroupID,
			Name:        s.Name,
			Host:        s.Host,
			Port:        s.Port,
			Username:    s.Username,
			AuthMethod:  s.AuthMethod,
			HasSecret:   s.EncryptedSecret != "",
			BastionHost: s.BastionHost,
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"servers": resp})
}

// GetServer returns one server record with its secret masked.
func GetServer(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server ID")
		return
	}
	if !middleware.CanAccessServer(r, uint(id)) {
		writeError(w, http.StatusForbidden, "Access denied")
		return
	}

	user := middleware.GetUser(r)
	srv, err := database.GetServerForUser(uint(id), userID(user), isAdmin(user))
	if err != nil {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":            srv.ID,
		"group_id":      srv.GroupID,
		"name":          srv.Name,
		"host":          srv.Host,
		"port":          srv.Port,
		"username":      srv.Username,
		"auth_method":   srv.AuthMethod,
		"secret_masked": secrets.Mask(srv.EncryptedSecret),
		"bastion_host":  srv.BastionHost,
		"bastion_port":  srv.BastionPort,
		"bastion_user":  srv.BastionUser,
	})
}

// ServerHistory lists recent AI-executed commands for a server, newest
// first. limit defaults to 100 and is clamped at 500.
func ServerHistory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server ID")
		return
	}
	if !middleware.CanAccessServer(r, uint(id)) {
		writeError(w, http.StatusForbidden, "Access denied")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	logs, err := database.ListCommandLogs(uint(id), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load history")
		return
	}

	type logResponse struct {
		ID        uint   `json:"id"`
		Command   string `json:"command"`
		ExitCode  *int   `json:"exit_code,omitempty"`
		Output    string `json:"output"`
		CreatedAt string `json:"created_at"`
	}
	resp := make([]logResponse, len(logs))
	for i, l := range logs {
		resp[i] = logResponse{
			ID:        l.ID,
			Command:   l.Command,
			ExitCode:  l.ExitCode,
			Output:    l.Output,
			CreatedAt: l.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": resp})
}
