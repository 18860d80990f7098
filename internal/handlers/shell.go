package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/gluk-w/shellpilot/internal/config"
	"github.com/gluk-w/shellpilot/internal/database"
	"github.com/gluk-w/shellpilot/internal/logutil"
	"github.com/gluk-w/shellpilot/internal/middleware"
	"github.com/gluk-w/shellpilot/internal/planner"
	"github.com/gluk-w/shellpilot/internal/safety"
	"github.com/gluk-w/shellpilot/internal/shellsession"
)

// shellRateLimit caps client frames per second per connection; bursts up
// to shellRateBurst are tolerated so pastes are not mangled.
const (
	shellRateLimit = 200
	shellRateBurst = 200
)

// Wired from main.go during startup.
var (
	// AIPlanner produces command plans for shell sessions.
	AIPlanner shellsession.CommandPlanner
	// GlobalRules is the operator-provided rules file content.
	GlobalRules config.Rules
	// Sessions tracks live shell sessions for shutdown.
	Sessions *shellsession.Registry
)

// ShellWS is the WebSocket endpoint for one interactive shell session
// against a server record. The client drives it with connect / input /
// resize / disconnect / ai_* frames; see internal/shellsession for the
// frame shapes.
func ShellWS(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid server ID", http.StatusBadRequest)
		return
	}

	if !middleware.CanAccessServer(r, uint(id)) {
		http.Error(w, "Access denied", http.StatusForbidden)
		return
	}

	user := middleware.GetUser(r)
	srv, err := database.GetServerForUser(uint(id), userID(user), isAdmin(user))
	if err != nil {
		http.Error(w, "Server not found", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[shell] accept websocket: %v", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1024 * 1024)

	ctx := r.Context()
	sender := &wsSender{conn: conn, ctx: ctx}

	sess := shellsession.New(sender, srv, user, AIPlanner, rulesFor(srv), forbiddenFor(srv), shellsession.SSHDialer{})
	if Sessions != nil {
		Sessions.Add(sess)
		defer Sessions.Remove(sess)
	}
	defer sess.Close()

	log.Printf("[shell] session %s opened: server=%d user=%s", sess.ID(), srv.ID, logutil.SanitizeForLog(username(user)))
	defer log.Printf("[shell] session %s closed: server=%d", sess.ID(), srv.ID)

	limiter := newTokenBucket(shellRateBurst, shellRateLimit)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if !limiter.allow() {
			continue
		}

		var msg shellsession.ClientMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case shellsession.MsgConnect:
			go sess.Connect(ctx, shellsession.ConnectParams{
				MasterPassword: msg.MasterPassword,
				Password:       msg.Password,
				Cols:           msg.Cols,
				Rows:           msg.Rows,
				TermType:       msg.TermType,
			})
		case shellsession.MsgInput:
			sess.Input(msg.Data)
		case shellsession.MsgResize:
			sess.Resize(msg.Cols, msg.Rows)
		case shellsession.MsgDisconnect:
			sess.Disconnect()
		case shellsession.MsgAIRequest:
			sess.HandleAIRequest(msg.Message)
		case shellsession.MsgAIConfirm:
			sess.ConfirmCommand(msg.ID)
		case shellsession.MsgAICancel:
			sess.CancelCommand(msg.ID)
		default:
			log.Printf("[shell] session %s: unknown message type %q", sess.ID(), msg.Type)
		}
	}
}

// rulesFor layers the global rules file with the server's group and its
// own rule text.
func rulesFor(srv *database.Server) planner.RulesContext {
	rules := planner.RulesContext{
		Global: GlobalRules.GlobalRules,
		Server: srv.AIRules,
	}
	if srv.Group != nil {
		rules.Group = srv.Group.AIRules
	}
	return rules
}

// forbiddenFor merges the global, group, and server forbidden-command
// lists for the safety gate.
func forbiddenFor(srv *database.Server) []string {
	var group []string
	if srv.Group != nil {
		group = database.ForbiddenPatterns(srv.Group.ForbiddenCommands)
	}
	return safety.MergeForbidden(GlobalRules.ForbiddenCommands, group, database.ForbiddenPatterns(srv.ForbiddenCommands))
}

func userID(u *database.User) uint {
	if u == nil {
		return 0
	}
	return u.ID
}

func isAdmin(u *database.User) bool {
	return u != nil && u.Role == "admin"
}

func username(u *database.User) string {
	if u == nil {
		return "anonymous"
	}
	return u.Username
}

// wsSender adapts a WebSocket connection to the session's Sender. The
// session fans frames in from several goroutines; coder/websocket allows
// one concurrent writer, so a mutex serializes them.
type wsSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
	ctx  context.Context
}

func (s *wsSender) Send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// tokenBucket is a minimal per-connection rate limiter for client frames.
type tokenBucket struct {
	tokens     int
	maxTokens  int
	refillRate int
	lastRefill time.Time
}

func newTokenBucket(maxTokens, refillRate int) *tokenBucket {
	return &tokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (tb *tokenBucket) allow() bool {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)
	tb.lastRefill = now

	tb.tokens += int(elapsed.Seconds() * float64(tb.refillRate))
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}

	if tb.tokens <= 0 {
		return false
	}
	tb.tokens--
	return true
}
