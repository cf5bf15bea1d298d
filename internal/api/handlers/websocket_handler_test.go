package handlers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellidocs/backend/internal/orchestrator"
	"github.com/intellidocs/backend/internal/rag"
)

type askerFunc func(ctx context.Context, question string, opts orchestrator.AskOptions) (*rag.QAResult, error)

func (f askerFunc) Ask(ctx context.Context, question string, opts orchestrator.AskOptions) (*rag.QAResult, error) {
	return f(ctx, question, opts)
}

// scriptedConn feeds queued messages to ReadJSON and records every
// written frame. Closing drop simulates the client disconnecting.
type scriptedConn struct {
	reads chan questionMessage
	drop  chan struct{}

	mu     sync.Mutex
	frames []map[string]interface{}
}

func newScriptedConn() *scriptedConn {
	return &scriptedConn{
		reads: make(chan questionMessage, 4),
		drop:  make(chan struct{}),
	}
}

func (c *scriptedConn) ReadJSON(v interface{}) error {
	select {
	case msg, ok := <-c.reads:
		if !ok {
			return errors.New("websocket: close sent")
		}
		*v.(*questionMessage) = msg
		return nil
	case <-c.drop:
		return errors.New("websocket: connection reset")
	}
}

func (c *scriptedConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := v.(map[string]interface{}); ok {
		c.frames = append(c.frames, m)
	}
	return nil
}

func (c *scriptedConn) Close() error { return nil }

func (c *scriptedConn) written() []map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]interface{}, len(c.frames))
	copy(out, c.frames)
	return out
}

func TestServeStreamsAnswerWordByWord(t *testing.T) {
	h := NewWebSocketHandler(askerFunc(func(ctx context.Context, question string, opts orchestrator.AskOptions) (*rag.QAResult, error) {
		return &rag.QAResult{
			ID:         "q-1",
			Question:   question,
			Answer:     "March 15 2025",
			Citations:  []rag.Citation{},
			Confidence: 0.8,
		}, nil
	}))

	conn := newScriptedConn()
	conn.reads <- questionMessage{Type: "question", Question: "What is the deadline?"}
	close(conn.reads)

	h.serve(conn)

	frames := conn.written()
	require.NotEmpty(t, frames)
	assert.Equal(t, "status", frames[0]["type"])

	var answer strings.Builder
	for _, f := range frames {
		if f["type"] == "chunk" {
			answer.WriteString(f["content"].(string))
		}
	}
	assert.Equal(t, "March 15 2025", strings.TrimSpace(answer.String()))

	last := frames[len(frames)-1]
	assert.Equal(t, "complete", last["type"])
	assert.Equal(t, "q-1", last["id"])
}

func TestServeAbandonsQueryOnDisconnect(t *testing.T) {
	started := make(chan struct{})
	askErr := make(chan error, 1)

	h := NewWebSocketHandler(askerFunc(func(ctx context.Context, question string, opts orchestrator.AskOptions) (*rag.QAResult, error) {
		close(started)
		<-ctx.Done()
		askErr <- ctx.Err()
		return nil, ctx.Err()
	}))

	conn := newScriptedConn()
	conn.reads <- questionMessage{Type: "question", Question: "What is the deadline?"}

	done := make(chan struct{})
	go func() {
		h.serve(conn)
		close(done)
	}()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("query never started")
	}

	close(conn.drop)

	select {
	case err := <-askErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("in-flight query was not cancelled on disconnect")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("serve did not return after disconnect")
	}
}

func TestServeIgnoresNonQuestionMessages(t *testing.T) {
	calls := 0
	h := NewWebSocketHandler(askerFunc(func(ctx context.Context, question string, opts orchestrator.AskOptions) (*rag.QAResult, error) {
		calls++
		return &rag.QAResult{Answer: "ok", Citations: []rag.Citation{}}, nil
	}))

	conn := newScriptedConn()
	conn.reads <- questionMessage{Type: "ping"}
	conn.reads <- questionMessage{Type: "question", Question: "hello?"}
	close(conn.reads)

	h.serve(conn)
	assert.Equal(t, 1, calls)
}
