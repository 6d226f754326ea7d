package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coderunr/evaluator/internal/job"
	"github.com/coderunr/evaluator/internal/types"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Close codes sent to streaming clients
const (
	closeNormal          = 1000
	closeAlreadyInit     = 4000
	closeInitTimeout     = 4001
	closeNotInitialized  = 4003
	closeEvaluationEnded = 4999
)

// initTimeout bounds the wait for the init message
var initTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

// WebSocketConnection streams one evaluation to a client
type WebSocketConnection struct {
	conn        *websocket.Conn
	handler     *Handler
	eventBus    chan types.WebSocketMessage
	done        chan struct{}
	cancel      context.CancelFunc
	initialized atomic.Bool
	mutex       sync.Mutex
	closed      bool
	closeCode   int
	closeText   string
	logger      *logrus.Entry
}

// HandleWebSocket handles WebSocket connections for streamed evaluation
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("WebSocket upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	wsConn := &WebSocketConnection{
		conn:     conn,
		handler:  h,
		eventBus: make(chan types.WebSocketMessage, 100),
		done:     make(chan struct{}),
		cancel:   cancel,
		logger:   h.logger.WithField("component", "websocket"),
	}

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))

	// Start event sender goroutine
	go wsConn.eventSender()

	timer := time.AfterFunc(initTimeout, func() {
		if !wsConn.initialized.Load() {
			wsConn.sendError("Initialization timeout")
			wsConn.close(closeInitTimeout, "Initialization Timeout")
		}
	})
	defer timer.Stop()

	wsConn.handleMessages(ctx)
	<-wsConn.done
}

// handleMessages reads client messages until the connection ends
func (wsConn *WebSocketConnection) handleMessages(ctx context.Context) {
	defer wsConn.close(closeNormal, "Connection closed")

	for {
		var msg types.WebSocketMessage
		if err := wsConn.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				closeNormal, closeAlreadyInit, closeInitTimeout, closeNotInitialized, closeEvaluationEnded) {
				wsConn.logger.WithError(err).Debug("WebSocket read error")
			}
			// The client is gone; stop any running evaluation
			wsConn.cancel()
			return
		}

		wsConn.conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		switch msg.Type {
		case "init":
			wsConn.handleInit(ctx, msg)
		case "cancel":
			if !wsConn.initialized.Load() {
				wsConn.close(closeNotInitialized, "Not yet initialized")
				continue
			}
			wsConn.logger.Debug("Evaluation canceled by client")
			wsConn.cancel()
		default:
			wsConn.sendError("Unknown message type: " + msg.Type)
		}
	}
}

// handleInit validates the request and starts the evaluation
func (wsConn *WebSocketConnection) handleInit(ctx context.Context, msg types.WebSocketMessage) {
	if !wsConn.initialized.CompareAndSwap(false, true) {
		wsConn.close(closeAlreadyInit, "Already Initialized")
		return
	}

	requestBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		wsConn.fail("Invalid request payload")
		return
	}

	var request types.EvaluateRequest
	if err := json.Unmarshal(requestBytes, &request); err != nil {
		wsConn.fail("Invalid evaluation request")
		return
	}

	submission, rt, err := wsConn.handler.prepare(&request)
	if err != nil {
		wsConn.fail(err.Error())
		return
	}

	j := wsConn.handler.jobManager.NewJob(submission)
	wsConn.logger.WithField("job_id", j.ID).Debug("Streaming evaluation")

	wsConn.sendMessage(types.WebSocketMessage{
		Type:     "runtime",
		Language: rt.Language,
		Version:  rt.Version.String(),
	})

	go wsConn.executeJob(ctx, j)
}

// executeJob runs the evaluation, streaming each result as it is known
func (wsConn *WebSocketConnection) executeJob(ctx context.Context, j *job.Job) {
	defer wsConn.close(closeEvaluationEnded, "Evaluation Completed")

	response := j.Execute(ctx, func(index int, result types.TestResult) {
		i := index
		wsConn.sendMessage(types.WebSocketMessage{
			Type:    "result",
			Index:   &i,
			Payload: result,
		})
	})

	wsConn.sendMessage(types.WebSocketMessage{
		Type:    "complete",
		Payload: response,
	})
}

// eventSender writes queued events in order, then closes the connection
func (wsConn *WebSocketConnection) eventSender() {
	defer close(wsConn.done)

	failed := false
	for event := range wsConn.eventBus {
		if failed {
			continue
		}
		wsConn.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := wsConn.conn.WriteJSON(event); err != nil {
			wsConn.logger.WithError(err).Error("Failed to send WebSocket message")
			failed = true
			wsConn.cancel()
		}
	}

	wsConn.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(wsConn.closeCode, wsConn.closeText),
		time.Now().Add(time.Second))
	wsConn.conn.Close()
}

// sendMessage queues a message for the client. Messages sent after close
// are dropped.
func (wsConn *WebSocketConnection) sendMessage(msg types.WebSocketMessage) {
	wsConn.mutex.Lock()
	defer wsConn.mutex.Unlock()

	if wsConn.closed {
		return
	}
	wsConn.eventBus <- msg
}

// sendError sends an error message
func (wsConn *WebSocketConnection) sendError(message string) {
	wsConn.sendMessage(types.WebSocketMessage{
		Type:  "error",
		Error: message,
	})
}

// fail reports a request error and ends the connection
func (wsConn *WebSocketConnection) fail(message string) {
	wsConn.sendError(message)
	wsConn.close(closeEvaluationEnded, "Evaluation Failed")
}

// close flushes pending events and closes the WebSocket connection
func (wsConn *WebSocketConnection) close(code int, message string) {
	wsConn.mutex.Lock()
	defer wsConn.mutex.Unlock()

	if wsConn.closed {
		return
	}
	wsConn.closed = true
	wsConn.closeCode = code
	wsConn.closeText = message
	close(wsConn.eventBus)
}
