package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/aristath/derivscript/internal/pricing"
	"nhooyr.io/websocket"
)

// progressMessage is one frame sent over /ws/progress: either a
// completion counter or a terminal result/error.
type progressMessage struct {
	Done     int               `json:"done,omitempty"`
	Total    int               `json:"total,omitempty"`
	Response *pricing.Response `json:"response,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// syncConn serialises writes to a *websocket.Conn: PriceWithProgress's
// onProgress hook can be called concurrently by several sensitivity
// workers at once, and a websocket connection is not safe for concurrent
// writes.
type syncConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *syncConn) write(ctx context.Context, msg progressMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// handleProgressWebSocket accepts a websocket connection, reads one
// pricing.Request as its first (and only) text message, then streams a
// progressMessage per scenario completed as internal/pricing's
// PriceWithProgress works through the batch, finishing with the priced
// response or an error. This is the one place in the service that needs
// a live view into a running batch, since the plain HTTP handler only
// returns once the whole thing is done.
func (s *Server) handleProgressWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	ctx := r.Context()
	_, data, err := conn.Read(ctx)
	if err != nil {
		closeStatus := websocket.CloseStatus(err)
		if closeStatus != websocket.StatusNormalClosure && closeStatus != websocket.StatusGoingAway {
			s.log.Warn().Err(err).Msg("websocket read failed")
		}
		return
	}

	sc := &syncConn{conn: conn}

	var req pricing.Request
	if err := json.Unmarshal(data, &req); err != nil {
		_ = sc.write(ctx, progressMessage{Error: "invalid request: " + err.Error()})
		conn.Close(websocket.StatusUnsupportedData, "invalid request")
		return
	}

	onProgress := func(done, total int) {
		_ = sc.write(ctx, progressMessage{Done: done, Total: total})
	}

	resp, err := pricing.PriceWithProgress(ctx, s.cfg, s.log, req, onProgress)
	if err != nil {
		_ = sc.write(ctx, progressMessage{Error: err.Error()})
		conn.Close(websocket.StatusNormalClosure, "")
		return
	}

	if err := sc.write(ctx, progressMessage{Done: req.NumPaths, Total: req.NumPaths, Response: resp}); err != nil {
		s.log.Warn().Err(err).Msg("websocket write failed")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}
