package terminal

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/craftastic-dev/orchestrator/internal/auth"
	"github.com/craftastic-dev/orchestrator/internal/db/repositories"
	"github.com/craftastic-dev/orchestrator/internal/runtime"
	"github.com/craftastic-dev/orchestrator/internal/swc"
	"github.com/craftastic-dev/orchestrator/pkg/models"
)

const attachIdleTimeout = 5 * time.Second

// Pipeline is PtyAttachPipeline (C5). It owns nothing persistent; each
// attach is independent and concurrent attaches to the same session share
// nothing but the pty-mux process inside the container (spec §4.5
// "Concurrency per session").
type Pipeline struct {
	authenticator *auth.Authenticator
	repos         *repositories.Repositories
	reconciler    *swc.Reconciler
	containers    *runtime.Manager
	corsOrigin    string
	logger        *slog.Logger
}

func NewPipeline(authenticator *auth.Authenticator, repos *repositories.Repositories, reconciler *swc.Reconciler, containers *runtime.Manager, corsOrigin string, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		authenticator: authenticator,
		repos:         repos,
		reconciler:    reconciler,
		containers:    containers,
		corsOrigin:    corsOrigin,
		logger:        logger,
	}
}

func (p *Pipeline) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if p.corsOrigin == "" || p.corsOrigin == "*" {
				return true
			}
			return r.Header.Get("Origin") == p.corsOrigin
		},
	}
}

// Attach is the entrypoint wired at /terminal/ws/:session_id. It upgrades
// immediately, then runs the setup sequence of spec.md §4.5 over the
// websocket itself: the client opened a WS and expects a close frame on
// failure (1008 auth/access-denied, 1011 setup failure per §4.5/§7), not a
// bare HTTP error response on the upgrade request.
func (p *Pipeline) Attach(w http.ResponseWriter, r *http.Request, sessionID string) {
	ctx := r.Context()

	conn, err := p.upgrader().Upgrade(w, r, nil)
	if err != nil {
		p.logger.Warn("websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}

	principal, err := p.authenticator.Authenticate(ctx, r.URL.Query().Get("token"))
	if err != nil {
		p.closeWithError(conn, CloseAuthFailure, "authentication failed")
		conn.Close()
		return
	}

	session, err := p.repos.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		p.closeWithError(conn, CloseAuthFailure, "session not found")
		conn.Close()
		return
	}
	env, err := p.repos.Environments.GetByID(ctx, session.EnvironmentID)
	if err != nil {
		p.closeWithError(conn, CloseAuthFailure, "environment not found")
		conn.Close()
		return
	}
	if env.UserID != principal.UserID {
		p.closeWithError(conn, CloseAuthFailure, "access denied")
		conn.Close()
		return
	}

	containerID, err := p.reconciler.EnsureSessionContainer(ctx, sessionID)
	if err != nil {
		p.closeWithError(conn, CloseSetupFailure, fmt.Sprintf("setup failed: %v", err))
		conn.Close()
		return
	}

	p.run(ctx, conn, session, containerID)
}

func (p *Pipeline) run(ctx context.Context, conn *websocket.Conn, session *models.Session, containerID string) {
	defer conn.Close()

	attachCmd := fmt.Sprintf(
		`tmux has-session -t %[1]q 2>/dev/null && exec tmux attach-session -d -t %[1]q || exec tmux new-session -s %[1]q -c %[2]q`,
		session.PtyMuxName, session.WorkingDirectory)

	stream, err := p.containers.Exec(ctx, containerID, []string{"sh", "-c", attachCmd}, runtime.ExecOptions{TTY: false})
	if err != nil {
		p.closeWithError(conn, CloseSetupFailure, fmt.Sprintf("failed to attach pty-mux: %v", err))
		return
	}
	defer stream.Close()

	if session.SessionType == models.SessionTypeAgent {
		if agent := p.lookupAgent(ctx, session.AgentID); agent != nil {
			_ = conn.WriteJSON(ServerMessage{
				Type: ServerMessageOutput,
				Data: fmt.Sprintf("# agent: %s (%s)\n", agent.Name, agent.Type),
			})
		}
	}

	_ = p.repos.Sessions.SetActiveContainer(ctx, session.ID, containerID)

	done := make(chan struct{})
	var closeOnce sync.Once
	signalDone := func() { closeOnce.Do(func() { close(done) }) }

	go p.bridgeContainerToClient(conn, stream, session, signalDone)
	go p.bridgeClientToContainer(ctx, conn, stream, signalDone)

	<-done
	_ = p.repos.Sessions.SetInactive(context.Background(), session.ID)
}

// bridgeContainerToClient demultiplexes the container's exec stream and
// forwards stdout+stderr merged as "output" messages; it also closes the
// socket if no frame arrives within 5s of attach (later quiet periods are
// not timed), and applies the ERROR:/non-zero-exit dead transition.
func (p *Pipeline) bridgeContainerToClient(conn *websocket.Conn, stream *runtime.Stream, session *models.Session, signalDone func()) {
	defer signalDone()

	reader := runtime.NewFrameReader(stream.Reader)
	frames := make(chan frameResult)
	go func() {
		for {
			id, payload, err := reader.ReadFrame()
			frames <- frameResult{id: id, payload: payload, err: err}
			if err != nil {
				return
			}
		}
	}()

	timer := time.NewTimer(attachIdleTimeout)
	defer timer.Stop()
	timeout := timer.C

	sawErrorMarker := false

	for {
		select {
		case <-timeout:
			p.closeWithError(conn, CloseSetupFailure, "terminal did not respond")
			return

		case f := <-frames:
			if f.err != nil {
				code, reason := CloseNormal, "terminal ended"
				if exitCode, eerr := stream.ExitCode(context.Background()); eerr == nil && exitCode != 0 {
					_ = p.repos.Sessions.SetDead(context.Background(), session.ID)
					code, reason = CloseSetupFailure, "terminal exited non-zero"
				} else if sawErrorMarker {
					_ = p.repos.Sessions.SetDead(context.Background(), session.ID)
				}
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
				return
			}

			// The first frame ends the post-attach window; a nil channel
			// never fires, so later quiet periods do not close the terminal.
			timeout = nil

			if f.id == runtime.StreamStderr && strings.Contains(string(f.payload), "ERROR:") {
				sawErrorMarker = true
			}

			if err := conn.WriteJSON(ServerMessage{Type: ServerMessageOutput, Data: string(f.payload)}); err != nil {
				return
			}
		}
	}
}

// bridgeClientToContainer reads client messages and applies input/resize to
// the live exec stream.
func (p *Pipeline) bridgeClientToContainer(ctx context.Context, conn *websocket.Conn, stream *runtime.Stream, signalDone func()) {
	defer signalDone()

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case ClientMessageInput:
			if _, err := stream.Writer.Write([]byte(msg.Data)); err != nil {
				return
			}
		case ClientMessageResize:
			if stream.Resize != nil {
				_ = stream.Resize(ctx, msg.Cols, msg.Rows)
			}
		}
	}
}

func (p *Pipeline) lookupAgent(ctx context.Context, agentID *string) *models.Agent {
	if agentID == nil {
		return nil
	}
	agent, err := p.repos.Agents.GetByID(ctx, *agentID)
	if err != nil {
		return nil
	}
	return agent
}

func (p *Pipeline) closeWithError(conn *websocket.Conn, code int, message string) {
	_ = conn.WriteJSON(ServerMessage{Type: ServerMessageError, Message: message})
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, message), time.Now().Add(time.Second))
}

type frameResult struct {
	id      byte
	payload []byte
	err     error
}
