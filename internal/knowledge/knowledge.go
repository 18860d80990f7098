// Package knowledge extracts durable facts from executed commands.
//
// Like the history sink, extraction is best-effort: any failure is logged
// and discarded, never surfaced to the command queue.
package knowledge

import (
	"log"
	"strings"

	"github.com/gluk-w/shellpilot/internal/database"
	"github.com/google/uuid"
)

// extractors map a command signature to a knowledge topic. Only commands
// that changed system state in a way worth remembering produce entries.
var extractors = []struct {
	prefixes []string
	topic    string
}{
	{[]string{"apt install", "apt-get install", "yum install", "dnf install", "apk add"}, "package-install"},
	{[]string{"apt remove", "apt-get remove", "yum remove", "dnf remove"}, "package-remove"},
	{[]string{"systemctl enable", "systemctl start", "systemctl restart", "systemctl reload"}, "service-change"},
	{[]string{"useradd", "adduser", "usermod"}, "user-change"},
	{[]string{"ufw ", "iptables ", "firewall-cmd "}, "firewall-change"},
	{[]string{"crontab "}, "cron-change"},
}

// Extract inspects one completed command and stores a knowledge entry if
// it matched a known state-changing shape and succeeded. Failures are
// swallowed.
func Extract(serverID uint, command string, exitCode *int) {
	if exitCode == nil || *exitCode != 0 {
		return
	}

	topic := classify(command)
	if topic == "" {
		return
	}

	entry := &database.KnowledgeEntry{
		ID:       uuid.New().String(),
		ServerID: serverID,
		Topic:    topic,
		Content:  command,
	}
	if err := database.DB.Create(entry).Error; err != nil {
		log.Printf("[knowledge] extract failed (discarded): %v", err)
	}
}

func classify(command string) string {
	normalized := strings.ToLower(strings.TrimSpace(command))
	normalized = strings.TrimPrefix(normalized, "sudo ")
	for _, ex := range extractors {
		for _, p := range ex.prefixes {
			if strings.HasPrefix(normalized, p) {
				return ex.topic
			}
		}
	}
	return ""
}
