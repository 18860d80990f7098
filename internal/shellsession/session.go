// Package shellsession implements the server side of one WebSocket shell
// session: the SSH-backed remote process, the output multiplexer that
// filters exit markers out of the streams, and the AI command queue.
//
// A Session is owned by a single WebSocket handler goroutine for control
// messages, while stream readers and the queue processor run as
// background goroutines. One mutex guards all shared state; goroutines
// never hold it across blocking I/O.
package shellsession

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gluk-w/shellpilot/internal/database"
	"github.com/gluk-w/shellpilot/internal/markers"
	"github.com/gluk-w/shellpilot/internal/planner"
)

const (
	// maxTailChars bounds the rolling terminal tail kept for AI context.
	maxTailChars = 8000
	// maxCaptureChars bounds the output captured per queued command.
	maxCaptureChars = 6000
)

// CommandPlanner is the planning dependency of a Session. Satisfied by
// *planner.Planner; tests substitute a fake.
type CommandPlanner interface {
	PlanCommands(ctx context.Context, request string, rules planner.RulesContext, terminalTail string) (*planner.Plan, error)
}

// Session is the server half of one shell WebSocket connection.
type Session struct {
	mu sync.Mutex

	id        string
	sender    Sender
	server    *database.Server
	user      *database.User
	planner   CommandPlanner
	rules     planner.RulesContext
	forbidden []string
	dialer    Dialer

	state    string
	proc     RemoteProcess
	bgCancel context.CancelFunc

	tail    *tailBuffer
	capture *tailBuffer // non-nil while a queued command is collecting output

	nextCmdID int
	futures   map[int]*exitFuture

	plan        []*planItem
	planIdx     int
	planGen     int
	processorOn bool
	aiCancel    context.CancelFunc

	// recorder feeds the history and knowledge sinks after each queued
	// command. Tests swap it for a capture func.
	recorder recorderFunc
	// cmdTimeout bounds the wait for each queued command's exit marker.
	// Tests shorten it.
	cmdTimeout time.Duration

	closed bool
}

// New creates a session bound to an accepted WebSocket and announces it
// to the client.
func New(sender Sender, srv *database.Server, user *database.User, p CommandPlanner, rules planner.RulesContext, forbidden []string, dialer Dialer) *Session {
	s := &Session{
		id:         uuid.New().String(),
		sender:     sender,
		server:     srv,
		user:       user,
		planner:    p,
		rules:      rules,
		forbidden:  forbidden,
		dialer:     dialer,
		state:      StatusDisconnected,
		tail:       newTailBuffer(maxTailChars),
		futures:    make(map[int]*exitFuture),
		recorder:   defaultRecorder,
		cmdTimeout: commandTimeout,
	}
	s.send(readyMsg{
		Type:               "ready",
		ServerID:           srv.ID,
		ServerName:         srv.Name,
		AuthMethod:         srv.AuthMethod,
		HasEncryptedSecret: srv.EncryptedSecret != "",
	})
	return s
}

// ID returns the session identifier used in logs and the registry.
func (s *Session) ID() string { return s.id }

// Connect dials the remote host and starts the stream readers. A second
// connect while one is live or in flight is ignored.
func (s *Session) Connect(ctx context.Context, params ConnectParams) {
	s.mu.Lock()
	if s.closed || s.state != StatusDisconnected {
		s.mu.Unlock()
		return
	}
	s.state = StatusConnecting
	s.mu.Unlock()
	s.sendStatus(StatusConnecting)

	proc, err := s.dialer.Dial(ctx, s.server, params)
	if err != nil {
		s.mu.Lock()
		s.state = StatusDisconnected
		s.mu.Unlock()
		log.Printf("[shell] session %s: connect to server %d failed: %v", s.id, s.server.ID, err)
		s.send(errorMsg{Type: "error", Message: fmt.Sprintf("connect failed: %v", err)})
		s.sendStatus(StatusDisconnected)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		proc.Close()
		return
	}
	s.proc = proc
	s.state = StatusConnected
	bgCtx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel
	s.mu.Unlock()

	s.sendStatus(StatusConnected)
	go s.readStream(bgCtx, proc.Stdout(), "stdout")
	go s.readStream(bgCtx, proc.Stderr(), "stderr")
	go s.waitRemote(proc)
}

// Input forwards raw keystrokes to the remote shell.
func (s *Session) Input(data string) {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	if proc == nil {
		s.send(errorMsg{Type: "error", Message: "not connected"})
		return
	}
	if _, err := proc.Stdin().Write([]byte(data)); err != nil {
		log.Printf("[shell] session %s: write input: %v", s.id, err)
	}
}

// Resize adjusts the remote PTY dimensions.
func (s *Session) Resize(cols, rows int) {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	if proc == nil {
		return
	}
	if err := proc.Resize(cols, rows); err != nil {
		log.Printf("[shell] session %s: resize: %v", s.id, err)
	}
}

// Disconnect tears down the remote process, cancels the AI task and any
// unresolved exit futures, and reports disconnected. The WebSocket stays
// open; the client may connect again.
func (s *Session) Disconnect() {
	s.teardownRemote(true)
}

// Close is the terminal teardown when the WebSocket itself goes away.
// No further frames are sent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.teardownRemote(false)
}

func (s *Session) teardownRemote(announce bool) {
	s.mu.Lock()
	proc := s.proc
	s.proc = nil
	wasConnected := s.state != StatusDisconnected
	s.state = StatusDisconnected
	cancel := s.bgCancel
	s.bgCancel = nil
	aiCancel := s.aiCancel
	s.aiCancel = nil
	futures := s.futures
	s.futures = make(map[int]*exitFuture)
	s.plan = nil
	s.planIdx = 0
	s.planGen++
	s.capture = nil
	s.mu.Unlock()

	if aiCancel != nil {
		aiCancel()
	}
	for _, f := range futures {
		f.Cancel()
	}
	if cancel != nil {
		cancel()
	}
	if proc != nil {
		proc.Close()
	}
	if announce && wasConnected {
		s.sendStatus(StatusDisconnected)
	}
}

// readStream pumps one remote stream through the marker filter, fanning
// visible bytes out to the client, the tail buffer, and the active
// command capture, and resolving exit futures for marker lines.
func (s *Session) readStream(ctx context.Context, r io.Reader, name string) {
	filter := markers.NewStreamFilter()
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			visible, events := filter.Feed(buf[:n])
			s.deliverOutput(name, visible)
			for _, ev := range events {
				s.resolveFuture(ev.CmdID, ev.ExitCode)
			}
		}
		if err != nil {
			if tail := filter.Flush(); len(tail) > 0 {
				s.deliverOutput(name, tail)
			}
			if err != io.EOF {
				log.Printf("[shell] session %s: read %s: %v", s.id, name, err)
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (s *Session) deliverOutput(stream string, data []byte) {
	if len(data) == 0 {
		return
	}
	s.tail.Write(data)
	s.mu.Lock()
	capture := s.capture
	s.mu.Unlock()
	if capture != nil {
		capture.Write(data)
	}
	s.send(outputMsg{Type: "output", Stream: stream, Data: string(data)})
}

func (s *Session) resolveFuture(id, code int) {
	s.mu.Lock()
	f := s.futures[id]
	delete(s.futures, id)
	s.mu.Unlock()
	if f == nil {
		// Marker for a command this session is no longer waiting on,
		// e.g. one that already timed out.
		log.Printf("[shell] session %s: stray exit marker for command %d", s.id, id)
		return
	}
	f.Resolve(code)
}

// waitRemote reports the shell's exit to the client, then runs the same
// teardown a disconnect would.
func (s *Session) waitRemote(proc RemoteProcess) {
	status, signal, err := proc.Wait()
	if err != nil {
		log.Printf("[shell] session %s: remote wait: %v", s.id, err)
	}

	s.mu.Lock()
	stale := s.proc != proc
	s.mu.Unlock()
	if stale {
		// Torn down (or replaced) while we were waiting.
		return
	}

	s.send(exitMsg{Type: "exit", ExitStatus: status, ExitSignal: signal})
	s.teardownRemote(true)
}

func (s *Session) sendStatus(status string) {
	s.send(statusMsg{Type: "status", Status: status})
}

func (s *Session) send(v interface{}) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	if err := s.sender.Send(v); err != nil {
		log.Printf("[shell] session %s: send frame: %v", s.id, err)
	}
}
