package shellsession

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gluk-w/shellpilot/internal/history"
	"github.com/gluk-w/shellpilot/internal/knowledge"
	"github.com/gluk-w/shellpilot/internal/markers"
	"github.com/gluk-w/shellpilot/internal/safety"
)

const (
	// commandTimeout bounds how long the processor waits for a queued
	// command's exit marker. On timeout the queue stops but the shell
	// session stays open.
	commandTimeout = 180 * time.Second
	// maxCommandChars is the per-command length limit.
	maxCommandChars = 400
	// typeDelay paces the keystroke simulation so remote line editors
	// keep up.
	typeDelay = 2 * time.Millisecond
)

// Plan item statuses.
const (
	itemPending        = "pending"
	itemPendingConfirm = "pending_confirm"
	itemRunning        = "running"
	itemDone           = "done"
	itemSkipped        = "skipped"
)

type planItem struct {
	ID              int
	Cmd             string
	Why             string
	Status          string
	RequiresConfirm bool
	Reason          string
	ExitCode        *int
}

// HandleAIRequest starts a planning task for the user's message. A new
// request supersedes any in-flight planning and any unfinished queue.
func (s *Session) HandleAIRequest(message string) {
	s.mu.Lock()
	if s.state != StatusConnected || s.proc == nil {
		s.mu.Unlock()
		s.send(aiErrorMsg{Type: "ai_error", Message: "no active shell session"})
		return
	}

	if s.aiCancel != nil {
		s.aiCancel()
	}
	for id, f := range s.futures {
		f.Cancel()
		delete(s.futures, id)
	}
	s.plan = nil
	s.planIdx = 0
	s.planGen++
	s.capture = nil

	ctx, cancel := context.WithCancel(context.Background())
	s.aiCancel = cancel
	s.mu.Unlock()

	go s.runPlanning(ctx, message)
}

func (s *Session) runPlanning(ctx context.Context, message string) {
	s.send(aiStatusMsg{Type: "ai_status", Status: AIStatusThinking})

	plan, err := s.planner.PlanCommands(ctx, message, s.rules, s.tail.String())

	s.mu.Lock()
	if ctx.Err() != nil {
		// Superseded by a newer request or a teardown.
		s.mu.Unlock()
		return
	}
	s.aiCancel = nil
	if err != nil {
		s.mu.Unlock()
		s.send(aiErrorMsg{Type: "ai_error", Message: fmt.Sprintf("planning failed: %v", err)})
		s.send(aiStatusMsg{Type: "ai_status", Status: AIStatusIdle})
		return
	}

	items := make([]*planItem, 0, len(plan.Commands))
	for _, c := range plan.Commands {
		s.nextCmdID++
		reason := safety.Classify(c.Cmd, s.forbidden)
		item := &planItem{
			ID:              s.nextCmdID,
			Cmd:             c.Cmd,
			Why:             c.Why,
			Status:          itemPending,
			RequiresConfirm: safety.RequiresConfirm(reason),
		}
		if item.RequiresConfirm {
			item.Reason = string(reason)
		}
		items = append(items, item)
	}
	s.plan = items
	s.planIdx = 0
	s.planGen++
	gen := s.planGen
	views := itemViews(items)
	s.mu.Unlock()

	// The full annotated plan must reach the client before the processor
	// can emit per-item frames for its ids.
	s.send(aiResponseMsg{Type: "ai_response", AssistantText: plan.AssistantText, Commands: views})
	if len(items) == 0 {
		s.send(aiStatusMsg{Type: "ai_status", Status: AIStatusIdle})
		return
	}

	s.mu.Lock()
	if gen == s.planGen {
		s.resumeLocked()
	}
	s.mu.Unlock()
}

// ConfirmCommand approves the queue's current item. Only the item the
// processor is actually waiting on can be confirmed.
func (s *Session) ConfirmCommand(id int) {
	s.mu.Lock()
	item := s.currentItemLocked()
	if item == nil || item.ID != id || item.Status != itemPendingConfirm {
		s.mu.Unlock()
		s.send(aiErrorMsg{Type: "ai_error", Message: fmt.Sprintf("command %d is not awaiting confirmation", id)})
		return
	}
	item.RequiresConfirm = false
	item.Status = itemPending
	gen := s.planGen
	s.mu.Unlock()

	// Acknowledge before restarting the processor so the client sees
	// "confirmed" ahead of the item's running frames.
	s.send(aiCommandStatusMsg{Type: "ai_command_status", ID: id, Status: "confirmed"})

	s.mu.Lock()
	if gen == s.planGen {
		s.resumeLocked()
	}
	s.mu.Unlock()
}

// CancelCommand skips the queue's current item and moves on.
func (s *Session) CancelCommand(id int) {
	s.mu.Lock()
	item := s.currentItemLocked()
	if item == nil || item.ID != id || item.Status != itemPendingConfirm {
		s.mu.Unlock()
		s.send(aiErrorMsg{Type: "ai_error", Message: fmt.Sprintf("command %d is not awaiting confirmation", id)})
		return
	}
	item.Status = itemSkipped
	gen := s.planGen
	s.mu.Unlock()

	s.send(aiCommandStatusMsg{Type: "ai_command_status", ID: id, Status: "skipped"})

	s.mu.Lock()
	if gen == s.planGen {
		s.resumeLocked()
	}
	s.mu.Unlock()
}

func (s *Session) currentItemLocked() *planItem {
	if s.planIdx >= len(s.plan) {
		return nil
	}
	return s.plan[s.planIdx]
}

// resumeLocked starts the queue processor if it is not already running
// and there is work left. Caller holds s.mu.
func (s *Session) resumeLocked() {
	if s.processorOn || s.closed {
		return
	}
	if s.planIdx >= len(s.plan) {
		return
	}
	s.processorOn = true
	go s.runProcessor(s.planGen)
}

// runProcessor drains the queue one item at a time. It pauses by
// returning: on a confirmation stop the processorOn flag is dropped and
// ConfirmCommand or CancelCommand restarts it via resumeLocked. gen
// detects that the plan was replaced while the processor was off the
// lock; a stale processor hands over and exits.
func (s *Session) runProcessor(gen int) {
	for {
		s.mu.Lock()
		if gen != s.planGen || s.closed || s.proc == nil {
			s.processorOn = false
			s.resumeLocked()
			s.mu.Unlock()
			return
		}
		if s.planIdx >= len(s.plan) {
			s.processorOn = false
			s.mu.Unlock()
			s.send(aiStatusMsg{Type: "ai_status", Status: AIStatusIdle})
			return
		}

		item := s.plan[s.planIdx]
		if item.Status == itemDone || item.Status == itemSkipped {
			s.planIdx++
			s.mu.Unlock()
			continue
		}

		if item.RequiresConfirm {
			item.Status = itemPendingConfirm
			s.processorOn = false
			s.mu.Unlock()
			s.send(aiStatusMsg{Type: "ai_status", Status: AIStatusWaitingConfirm, ID: item.ID, Reason: item.Reason})
			return
		}

		if err := validateCommand(item.Cmd); err != nil {
			item.Status = itemSkipped
			s.planIdx++
			s.mu.Unlock()
			s.send(aiErrorMsg{Type: "ai_error", Message: fmt.Sprintf("command %d rejected: %v", item.ID, err)})
			s.send(aiCommandStatusMsg{Type: "ai_command_status", ID: item.ID, Status: itemSkipped})
			continue
		}

		item.Status = itemRunning
		fut := newExitFuture()
		s.futures[item.ID] = fut
		s.capture = newTailBuffer(maxCaptureChars)
		proc := s.proc
		timeout := s.cmdTimeout
		s.mu.Unlock()

		s.send(aiStatusMsg{Type: "ai_status", Status: AIStatusRunning, ID: item.ID})
		s.send(aiCommandStatusMsg{Type: "ai_command_status", ID: item.ID, Status: itemRunning})

		if err := typeCommand(proc.Stdin(), item.Cmd, item.ID); err != nil {
			fut.Cancel()
			s.mu.Lock()
			delete(s.futures, item.ID)
			s.capture = nil
			if gen == s.planGen {
				s.processorOn = false
			}
			s.mu.Unlock()
			s.send(aiErrorMsg{Type: "ai_error", Message: fmt.Sprintf("send command %d: %v", item.ID, err)})
			s.send(aiStatusMsg{Type: "ai_status", Status: AIStatusIdle})
			return
		}

		code, ok := fut.Await(timeout)

		s.mu.Lock()
		delete(s.futures, item.ID)
		var output string
		if s.capture != nil {
			output = s.capture.String()
			s.capture = nil
		}
		if gen != s.planGen {
			// Plan replaced while the command ran; the reset path
			// already cancelled our future and cleared state.
			s.processorOn = false
			s.resumeLocked()
			s.mu.Unlock()
			return
		}
		item.Status = itemDone
		s.planIdx++
		if !ok {
			// A marker arriving after this point must lose to the
			// cancellation instead of resolving a dead future.
			fut.Cancel()
			s.processorOn = false
			s.mu.Unlock()
			s.send(aiErrorMsg{Type: "ai_error", Message: fmt.Sprintf("command %d did not report an exit code within %s", item.ID, timeout)})
			s.send(aiStatusMsg{Type: "ai_status", Status: AIStatusIdle})
			s.recordCommand(item, output)
			return
		}
		exitCode := code
		item.ExitCode = &exitCode
		s.mu.Unlock()

		s.send(aiCommandStatusMsg{Type: "ai_command_status", ID: item.ID, Status: itemDone, ExitCode: &exitCode})
		s.recordCommand(item, output)
	}
}

type recorderFunc func(serverID, userID uint, cmd string, exitCode *int, output string)

func defaultRecorder(serverID, userID uint, cmd string, exitCode *int, output string) {
	history.Record(serverID, userID, cmd, exitCode, output)
	knowledge.Extract(serverID, cmd, exitCode)
}

// recordCommand feeds the history and knowledge sinks. Both are
// best-effort and must never block or fail the queue.
func (s *Session) recordCommand(item *planItem, output string) {
	var userID uint
	if s.user != nil {
		userID = s.user.ID
	}
	go s.recorder(s.server.ID, userID, item.Cmd, item.ExitCode, output)
}

func validateCommand(cmd string) error {
	if strings.TrimSpace(cmd) == "" {
		return fmt.Errorf("empty command")
	}
	if strings.ContainsAny(cmd, "\n\r") {
		return fmt.Errorf("command spans multiple lines")
	}
	if len(cmd) > maxCommandChars {
		return fmt.Errorf("command exceeds %d characters", maxCommandChars)
	}
	return nil
}

// typeCommand simulates typing the command into the shell, then sends
// the marker line that echoes the exit code back through the stream.
func typeCommand(w io.Writer, cmd string, id int) error {
	for i := 0; i < len(cmd); i++ {
		if _, err := w.Write([]byte{cmd[i]}); err != nil {
			return fmt.Errorf("write command: %w", err)
		}
		time.Sleep(typeDelay)
	}
	if _, err := w.Write([]byte("\n")); err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	if _, err := io.WriteString(w, markers.CaptureLine(id)+"\n"); err != nil {
		return fmt.Errorf("write capture line: %w", err)
	}
	return nil
}

func itemViews(items []*planItem) []planItemView {
	views := make([]planItemView, len(items))
	for i, it := range items {
		views[i] = planItemView{
			ID:              it.ID,
			Cmd:             it.Cmd,
			Why:             it.Why,
			RequiresConfirm: it.RequiresConfirm,
			Reason:          it.Reason,
		}
	}
	return views
}
