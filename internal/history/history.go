// Package history records executed AI commands for later review.
//
// Recording is best-effort by contract: failures are logged and discarded
// so a broken database never interrupts a running command queue.
package history

import (
	"log"

	"github.com/gluk-w/shellpilot/internal/database"
)

// maxOutputSnippet bounds the stored output per command.
const maxOutputSnippet = 2000

// Record stores one executed command. Failure is invisible to the caller.
func Record(serverID, userID uint, command string, exitCode *int, output string) {
	if len(output) > maxOutputSnippet {
		output = output[len(output)-maxOutputSnippet:]
	}
	entry := &database.CommandLog{
		ServerID: serverID,
		UserID:   userID,
		Command:  command,
		ExitCode: exitCode,
		Output:   output,
	}
	if err := database.RecordCommand(entry); err != nil {
		log.Printf("[history] record command failed (discarded): %v", err)
	}
}
