package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aristath/derivscript/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

// TestProgressWebSocketStreamsCounterAndFinalResponse confirms
// /ws/progress emits one frame per scenario and a terminal frame
// carrying the priced response.
func TestProgressWebSocketStreamsCounterAndFinalResponse(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := New(Config{Port: 0, Log: zerolog.Nop(), Cfg: testConfig(), Store: store.New(db)})
	httpServer := httptest.NewServer(s.router)
	defer httpServer.Close()

	wsURL := "ws" + httpServer.URL[len("http"):] + "/ws/progress"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.NoError(t, conn.Write(ctx, websocket.MessageText, flatPriceBody(func(m map[string]any) { m["num_paths"] = 3 })))

	var frames []progressMessage
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		var msg progressMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		frames = append(frames, msg)
		if msg.Response != nil || msg.Error != "" {
			break
		}
	}

	require.Len(t, frames, 4, "three per-scenario counters plus the terminal frame")
	final := frames[len(frames)-1]
	require.NotNil(t, final.Response)
	assert.Equal(t, 3, final.Total)
	assert.InDelta(t, 900.0, final.Response.Variables["opt"], 1e-6)
}
