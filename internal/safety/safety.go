// Package safety classifies shell commands before they are executed on a
// user's behalf. It is the single gate shared by every subsystem that runs
// remote commands; do not fork the pattern list.
package safety

import (
	"regexp"
	"strings"
)

// Reason explains why a command needs confirmation before running.
type Reason string

const (
	// ReasonNone means the command matched nothing and may run unattended.
	ReasonNone Reason = "none"
	// ReasonDangerous means the command matched the built-in destructive
	// command classifier.
	ReasonDangerous Reason = "dangerous"
	// ReasonForbidden means the command matched a user-supplied forbidden
	// pattern. Forbidden takes precedence over dangerous.
	ReasonForbidden Reason = "forbidden"
)

// dangerousPatterns match destructive command shapes: recursive/forced
// deletes, filesystem formatting, raw device writes, shutdown/reboot,
// service stop/disable/mask, and truncation to zero length.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\brm\s+(-[a-z]*[rf][a-z]*\s+)+`),
	regexp.MustCompile(`(?i)\bmkfs(\.[a-z0-9]+)?\b`),
	regexp.MustCompile(`(?i)\bdd\b.*\bof=/dev/`),
	regexp.MustCompile(`(?i)>\s*/dev/sd[a-z]`),
	regexp.MustCompile(`(?i)\b(shutdown|reboot|halt|poweroff)\b`),
	regexp.MustCompile(`(?i)\bsystemctl\s+(stop|disable|mask|poweroff|halt)\b`),
	regexp.MustCompile(`(?i)\binit\s+[06]\b`),
	regexp.MustCompile(`(?i)\btruncate\s+(-[a-z]+\s+)*-?-s(ize)?[= ]*0\b`),
	regexp.MustCompile(`(?i)\bwipefs\b`),
	regexp.MustCompile(`(?i)\bfdisk\b|\bparted\b.*\b(rm|mklabel)\b`),
	regexp.MustCompile(`(?i):\s*>\s*\S`),
	regexp.MustCompile(`(?i)\bchmod\s+(-[a-z]+\s+)*777\s+/\s*$`),
}

// Classify returns the confirmation reason for a command. User-supplied
// forbidden patterns are case-insensitive substring matches and win over
// the built-in dangerous classifier.
func Classify(cmd string, forbidden []string) Reason {
	lower := strings.ToLower(cmd)
	for _, pat := range forbidden {
		pat = strings.TrimSpace(strings.ToLower(pat))
		if pat == "" {
			continue
		}
		if strings.Contains(lower, pat) {
			return ReasonForbidden
		}
	}

	for _, re := range dangerousPatterns {
		if re.MatchString(cmd) {
			return ReasonDangerous
		}
	}

	return ReasonNone
}

// RequiresConfirm reports whether a classification blocks unattended
// execution.
func RequiresConfirm(r Reason) bool {
	return r != ReasonNone
}

// MergeForbidden combines forbidden pattern lists (global, group, server)
// into one list, de-duplicated case-insensitively, preserving first-seen
// order.
func MergeForbidden(lists ...[]string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, list := range lists {
		for _, pat := range list {
			pat = strings.TrimSpace(pat)
			if pat == "" {
				continue
			}
			key := strings.ToLower(pat)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, pat)
		}
	}
	return out
}
