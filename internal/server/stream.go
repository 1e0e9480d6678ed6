package server

import (
	"context"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"dealflow/internal/domain"
	"dealflow/internal/engine"
	"dealflow/internal/engine/auth"
	"dealflow/internal/pipeline"
)

const (
	streamWriteWait = 10 * time.Second
	streamPongWait  = 60 * time.Second
	streamPingEvery = (streamPongWait * 9) / 10
	streamBuffer    = 64
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// Frame types sent over the stream.
const (
	FramePipeline     = "pipeline"
	FrameNotification = "notification"
	FrameProposal     = "proposal"
	FrameError        = "error"
	FramePong         = "pong"
)

type streamInbound struct {
	Type       string `json:"type"`
	ProposalID string `json:"proposal_id,omitempty"`
}

// StreamFrame is one outbound websocket message.
type StreamFrame struct {
	Type         string               `json:"type"`
	Pipeline     *pipeline.Snapshot   `json:"pipeline,omitempty"`
	Notification *domain.Notification `json:"notification,omitempty"`
	Proposal     *domain.Proposal     `json:"proposal,omitempty"`
	Code         string               `json:"code,omitempty"`
	Message      string               `json:"message,omitempty"`
}

func registerStream(r chi.Router, basePath string, e engine.Engine, logger *slog.Logger) {
	r.Get(path.Join(basePath, "stream"), func(w http.ResponseWriter, req *http.Request) {
		principal, authErr := principalFromRequest(req.Context())
		if authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		if err := auth.Require(principal.Roles, principal.Permissions, auth.PermDealsRead); err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		serveStream(w, req, e, principal, logger)
	})
}

// serveStream pushes pipeline snapshots, toasts and proposal changes, and
// accepts confirm/cancel frames from operators.
func serveStream(w http.ResponseWriter, r *http.Request, e engine.Engine, principal Principal, logger *slog.Logger) {
	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(streamPongWait)); err != nil {
		logger.Warn("stream set read deadline failed", "err", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	writeCh := make(chan StreamFrame, streamBuffer)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(streamPingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case out := <-writeCh:
				if err := conn.SetWriteDeadline(time.Now().Add(streamWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(out); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(streamWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	snapshots, stopSnapshots := e.Store.Subscribe(streamBuffer)
	defer stopSnapshots()
	proposals, stopProposals := e.Proposals.Subscribe(streamBuffer)
	defer stopProposals()
	var notes <-chan domain.Notification
	if e.Sink != nil {
		var stopNotes func()
		notes, stopNotes = e.Sink.Subscribe(streamBuffer)
		defer stopNotes()
	}

	snap := e.Store.Snapshot()
	pushStream(writeCh, StreamFrame{Type: FramePipeline, Pipeline: &snap})
	for _, p := range e.Proposals.Pending() {
		pushStream(writeCh, StreamFrame{Type: FrameProposal, Proposal: &p})
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case s, ok := <-snapshots:
				if !ok {
					return
				}
				pushStream(writeCh, StreamFrame{Type: FramePipeline, Pipeline: &s})
			case p, ok := <-proposals:
				if !ok {
					return
				}
				pushStream(writeCh, StreamFrame{Type: FrameProposal, Proposal: &p})
			case n, ok := <-notes:
				if !ok {
					notes = nil
					continue
				}
				pushStream(writeCh, StreamFrame{Type: FrameNotification, Notification: &n})
			}
		}
	}()

	for {
		var in streamInbound
		if err := conn.ReadJSON(&in); err != nil {
			cancel()
			<-writerDone
			return
		}
		switch msgType := strings.ToLower(strings.TrimSpace(in.Type)); msgType {
		case "ping":
			pushStream(writeCh, StreamFrame{Type: FramePong})
		case "confirm", "cancel":
			if err := auth.Require(principal.Roles, principal.Permissions, auth.PermProposalsResolve); err != nil {
				pushStream(writeCh, StreamFrame{Type: FrameError, Code: "forbidden", Message: err.Error()})
				continue
			}
			if _, err := e.Proposals.Resolve(ctx, strings.TrimSpace(in.ProposalID), msgType == "confirm", principal.ID); err != nil {
				se := handleError(err)
				code := "internal_error"
				if ae, ok := se.(*apiError); ok {
					code = ae.Body.Code
				}
				pushStream(writeCh, StreamFrame{Type: FrameError, Code: code, Message: err.Error()})
			}
		default:
			pushStream(writeCh, StreamFrame{Type: FrameError, Code: "invalid_argument", Message: "unsupported type: " + msgType})
		}
	}
}

// pushStream never blocks; under backpressure the oldest queued frame is dropped.
func pushStream(writeCh chan StreamFrame, out StreamFrame) {
	select {
	case writeCh <- out:
		return
	default:
	}
	select {
	case <-writeCh:
	default:
	}
	select {
	case writeCh <- out:
	default:
	}
}
