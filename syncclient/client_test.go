package syncclient_test

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zlnvch/whiteboard/models"
	"github.com/zlnvch/whiteboard/protocol"
	"github.com/zlnvch/whiteboard/shape"
	"github.com/zlnvch/whiteboard/syncclient"
	"github.com/zlnvch/whiteboard/syncclient/canvas"
	"golang.org/x/time/rate"
)

type fakeTransport struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu   sync.Mutex
	sent [][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) Send(ctx context.Context, frame []byte) error {
	select {
	case <-f.closed:
		return net.ErrClosed
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), frame...))
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-f.in:
		return frame, nil
	case <-f.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) sentEvents(t *testing.T) []protocol.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	events := make([]protocol.Event, 0, len(f.sent))
	for _, frame := range f.sent {
		ev, err := protocol.Decode(frame)
		require.NoError(t, err)
		events = append(events, ev)
	}
	return events
}

func (f *fakeTransport) deliver(t *testing.T, ev protocol.Event) {
	frame, err := protocol.Encode(ev)
	require.NoError(t, err)
	f.in <- frame
}

// dialQueue hands out the given transports in order, then fails.
func dialQueue(transports ...*fakeTransport) syncclient.Dialer {
	var mu sync.Mutex
	return func(ctx context.Context) (syncclient.Transport, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(transports) == 0 {
			return nil, errors.New("no more transports")
		}
		t := transports[0]
		transports = transports[1:]
		return t, nil
	}
}

func fastBackOff() syncclient.Option {
	return syncclient.WithBackOff(func() backoff.BackOff {
		return backoff.NewConstantBackOff(5 * time.Millisecond)
	})
}

type harness struct {
	client  *syncclient.Client
	canvas  *canvas.Canvas
	events  chan protocol.Event
	done    chan error
	cancel  context.CancelFunc
	initial *fakeTransport
}

func start(t *testing.T, opts ...syncclient.Option) *harness {
	transport := newFakeTransport()
	return startWith(t, dialQueue(transport), transport, opts...)
}

func startWith(t *testing.T, dial syncclient.Dialer, initial *fakeTransport, opts ...syncclient.Option) *harness {
	h := &harness{
		canvas:  canvas.New(),
		events:  make(chan protocol.Event, 64),
		done:    make(chan error, 1),
		initial: initial,
	}
	opts = append([]syncclient.Option{
		fastBackOff(),
		syncclient.WithEventHook(func(ev protocol.Event) { h.events <- ev }),
	}, opts...)

	client, err := syncclient.New("r1", "Ada", dial, h.canvas, opts...)
	require.NoError(t, err)
	h.client = client

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- client.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(2 * time.Second):
			t.Error("client did not stop")
		}
	})

	assert.Eventually(t, func() bool { return client.State() == syncclient.Active }, time.Second, 5*time.Millisecond)
	return h
}

func (h *harness) waitEvent(t *testing.T) protocol.Event {
	t.Helper()
	select {
	case ev := <-h.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func line(x float64) shape.Shape {
	return shape.Shape{
		Kind:        shape.KindPath,
		Stroke:      "#FF0000",
		StrokeWidth: 2,
		Left:        x,
		Top:         5,
		Path:        []shape.Point{{X: 0, Y: 0}, {X: 10, Y: 10}},
	}
}

func TestRun_JoinsRoomOnConnect(t *testing.T) {
	h := start(t)

	sent := h.initial.sentEvents(t)
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.JoinRoom{RoomId: "r1"}, sent[0])
}

func TestCompleteStroke_RecordsAndSends(t *testing.T) {
	h := start(t)

	require.NoError(t, h.client.CompleteStroke(line(1)))

	assert.Equal(t, []shape.Shape{line(1)}, h.canvas.Shapes())
	step, length := h.client.HistoryStep()
	assert.Equal(t, 1, step)
	assert.Equal(t, 2, length)

	sent := h.initial.sentEvents(t)
	require.Len(t, sent, 2)
	draw, ok := sent[1].(protocol.DrawLine)
	require.True(t, ok)
	assert.Equal(t, "r1", draw.RoomId)
	decoded, err := shape.Deserialize(draw.Shape)
	require.NoError(t, err)
	assert.Equal(t, line(1), decoded)
}

func TestCompleteStroke_InvalidShapeRejected(t *testing.T) {
	h := start(t)

	bad := line(1)
	bad.StrokeWidth = 0
	assert.Error(t, h.client.CompleteStroke(bad))
	assert.Empty(t, h.canvas.Shapes())
}

func TestIncomingStroke_AppliedWithoutReemit(t *testing.T) {
	h := start(t)

	payload, err := shape.Serialize(line(3))
	require.NoError(t, err)
	h.initial.deliver(t, protocol.DrawLine{RoomId: "r1", Shape: payload})
	h.waitEvent(t)

	assert.Equal(t, []shape.Shape{line(3)}, h.canvas.Shapes())
	// Only the join went out
	assert.Len(t, h.initial.sentEvents(t), 1)

	step, _ := h.client.HistoryStep()
	assert.Equal(t, 1, step)
}

func TestIncomingClear_IsUndoable(t *testing.T) {
	h := start(t)

	require.NoError(t, h.client.CompleteStroke(line(1)))
	require.NoError(t, h.client.CompleteStroke(line(2)))

	h.initial.deliver(t, protocol.Clear{RoomId: "r1"})
	h.waitEvent(t)

	assert.Empty(t, h.canvas.Shapes())
	assert.Equal(t, canvas.White, h.canvas.Background())

	require.NoError(t, h.client.Undo())
	assert.Equal(t, []shape.Shape{line(1), line(2)}, h.canvas.Shapes())
}

func TestClearBoard_SendsAndRecords(t *testing.T) {
	h := start(t)

	require.NoError(t, h.client.CompleteStroke(line(1)))
	require.NoError(t, h.client.ClearBoard())
	assert.Empty(t, h.canvas.Shapes())

	sent := h.initial.sentEvents(t)
	assert.Equal(t, protocol.Clear{RoomId: "r1"}, sent[len(sent)-1])

	require.NoError(t, h.client.Undo())
	assert.Len(t, h.canvas.Shapes(), 1)
}

func TestUndo_ReturnsToBlankAndIgnoresUnderflow(t *testing.T) {
	h := start(t)

	for i := 0; i < 4; i++ {
		require.NoError(t, h.client.CompleteStroke(line(float64(i))))
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, h.client.Undo())
	}
	assert.Empty(t, h.canvas.Shapes())

	// Undo past the blank snapshot is silently ignored
	assert.NoError(t, h.client.Undo())
	assert.Empty(t, h.canvas.Shapes())
}

func TestUndo_NotSentToRoom(t *testing.T) {
	h := start(t)

	require.NoError(t, h.client.CompleteStroke(line(1)))
	require.NoError(t, h.client.Undo())

	assert.Len(t, h.initial.sentEvents(t), 2)
}

func TestCursor_OutOfOrderLastDeliveredWins(t *testing.T) {
	h := start(t)

	// Emitted as x=1 then x=2 but delivered swapped
	h.initial.deliver(t, protocol.CursorMove{RoomId: "r1", Username: "Bob", X: 2, Y: 2, ConnectionId: "bob"})
	h.initial.deliver(t, protocol.CursorMove{RoomId: "r1", Username: "Bob", X: 1, Y: 1, ConnectionId: "bob"})
	h.waitEvent(t)
	h.waitEvent(t)

	cursors := h.client.Cursors()
	require.Len(t, cursors, 1)
	assert.Equal(t, 1.0, cursors[0].Shape.Left)
	assert.Equal(t, shape.HashColor("bob"), cursors[0].Shape.Fill)
}

func TestCursor_MissingConnectionIdDropped(t *testing.T) {
	h := start(t)

	h.initial.deliver(t, protocol.CursorMove{RoomId: "r1", Username: "Bob", X: 2, Y: 2})
	h.initial.deliver(t, protocol.Clear{RoomId: "r1"})
	assert.Equal(t, protocol.TypeClear, h.waitEvent(t).Type())

	assert.Empty(t, h.client.Cursors())
}

func TestMemberLeft_RemovesCursor(t *testing.T) {
	h := start(t)

	h.initial.deliver(t, protocol.CursorMove{RoomId: "r1", Username: "Bob", X: 2, Y: 2, ConnectionId: "bob"})
	h.initial.deliver(t, protocol.CursorMove{RoomId: "r1", Username: "Cy", X: 3, Y: 3, ConnectionId: "cy"})
	h.initial.deliver(t, protocol.MemberLeft{RoomId: "r1", ConnectionId: "bob"})
	for i := 0; i < 3; i++ {
		h.waitEvent(t)
	}

	cursors := h.client.Cursors()
	require.Len(t, cursors, 1)
	assert.Equal(t, "cy", cursors[0].ConnectionId)
}

func TestMalformedFramesDropped(t *testing.T) {
	h := start(t)

	h.initial.in <- []byte(`{not json`)
	h.initial.in <- []byte(`{"type":"draw-line","data":{"roomId":"r1","data":{"version":1,"type":"blob"}}}`)
	h.initial.in <- []byte(`{"type":"teleport","data":{}}`)
	h.initial.deliver(t, protocol.DrawLine{RoomId: "other", Shape: mustSerialize(t, line(9))})

	payload := mustSerialize(t, line(4))
	h.initial.deliver(t, protocol.DrawLine{RoomId: "r1", Shape: payload})

	ev := h.waitEvent(t)
	assert.Equal(t, protocol.TypeDrawLine, ev.Type())
	assert.Equal(t, []shape.Shape{line(4)}, h.canvas.Shapes())
	assert.Equal(t, syncclient.Active, h.client.State())
}

func mustSerialize(t *testing.T, s shape.Shape) []byte {
	payload, err := shape.Serialize(s)
	require.NoError(t, err)
	return payload
}

func TestChat_OptimisticAppendAndReceive(t *testing.T) {
	h := start(t)

	msg, err := h.client.SendChat("hello")
	require.NoError(t, err)
	assert.Equal(t, "Ada", msg.Sender)
	assert.NotEmpty(t, msg.Id)

	incoming := models.ChatMessage{Id: "m2", Text: "hi back", Sender: "Bob", Timestamp: 1}
	h.initial.deliver(t, protocol.ReceiveMessage{RoomId: "r1", Message: incoming})
	h.waitEvent(t)

	chat := h.client.Chat()
	require.Len(t, chat, 2)
	assert.Equal(t, "hello", chat[0].Text)
	assert.Equal(t, incoming, chat[1])

	sent := h.initial.sentEvents(t)
	send, ok := sent[len(sent)-1].(protocol.SendMessage)
	require.True(t, ok)
	assert.Equal(t, msg, send.Message)
}

func TestMoveCursor_Throttled(t *testing.T) {
	h := start(t, syncclient.WithCursorRate(rate.Limit(0), 1))

	require.NoError(t, h.client.MoveCursor(1, 1))
	require.NoError(t, h.client.MoveCursor(2, 2))

	sent := h.initial.sentEvents(t)
	require.Len(t, sent, 2)
	assert.Equal(t, protocol.CursorMove{RoomId: "r1", Username: "Ada", X: 1, Y: 1}, sent[1])
}

func TestOperations_NotActive(t *testing.T) {
	c, err := syncclient.New("r1", "Ada", dialQueue(), canvas.New())
	require.NoError(t, err)

	assert.ErrorIs(t, c.MoveCursor(1, 1), syncclient.ErrNotActive)
	_, err = c.SendChat("hi")
	assert.ErrorIs(t, err, syncclient.ErrNotActive)
	assert.Empty(t, c.Chat())

	// Local drawing still works offline
	assert.ErrorIs(t, c.CompleteStroke(line(1)), syncclient.ErrNotActive)
	step, _ := c.HistoryStep()
	assert.Equal(t, 1, step)
}

func TestRun_ReconnectsAndRejoins(t *testing.T) {
	first := newFakeTransport()
	second := newFakeTransport()

	var mu sync.Mutex
	var states []syncclient.State
	var lastErr error
	hook := syncclient.WithStateHook(func(s syncclient.State, err error) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
		if err != nil {
			lastErr = err
		}
	})

	h := startWith(t, dialQueue(first, second), first, hook)

	h.initial.deliver(t, protocol.CursorMove{RoomId: "r1", Username: "Bob", X: 2, Y: 2, ConnectionId: "bob"})
	h.waitEvent(t)
	require.NoError(t, h.client.CompleteStroke(line(1)))

	// Drop the connection
	first.Close()

	assert.Eventually(t, func() bool { return len(second.sentEvents(t)) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, protocol.JoinRoom{RoomId: "r1"}, second.sentEvents(t)[0])
	assert.Eventually(t, func() bool { return h.client.State() == syncclient.Active }, time.Second, 5*time.Millisecond)

	// Local canvas and history survive, stale cursors do not
	assert.Len(t, h.canvas.Shapes(), 1)
	assert.Empty(t, h.client.Cursors())

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, states, syncclient.Disconnected)
	var terr *syncclient.TransportError
	assert.ErrorAs(t, lastErr, &terr)
}

func TestRun_RejectedIsNotRetried(t *testing.T) {
	dials := 0
	dial := func(ctx context.Context) (syncclient.Transport, error) {
		dials++
		return nil, syncclient.ErrRejected
	}

	c, err := syncclient.New("r1", "Ada", dial, canvas.New(), fastBackOff())
	require.NoError(t, err)

	err = c.Run(context.Background())
	var terr *syncclient.TransportError
	require.ErrorAs(t, err, &terr)
	assert.ErrorIs(t, err, syncclient.ErrRejected)
	assert.Equal(t, 1, dials)
	assert.Equal(t, syncclient.Disconnected, c.State())
}

func TestRun_GivesUpAfterReconnectWindow(t *testing.T) {
	c, err := syncclient.New("r1", "Ada", dialQueue(), canvas.New(),
		fastBackOff(),
		syncclient.WithReconnectWindow(50*time.Millisecond),
	)
	require.NoError(t, err)

	err = c.Run(context.Background())
	var terr *syncclient.TransportError
	assert.ErrorAs(t, err, &terr)
}

func TestClose_StopsRunAndReleasesState(t *testing.T) {
	transport := newFakeTransport()
	cv := canvas.New()
	c, err := syncclient.New("r1", "Ada", dialQueue(transport), cv, fastBackOff())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()
	assert.Eventually(t, func() bool { return c.State() == syncclient.Active }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.CompleteStroke(line(1)))
	c.Close()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}

	assert.Equal(t, syncclient.Disconnected, c.State())
	step, length := c.HistoryStep()
	assert.Equal(t, 0, step)
	assert.Equal(t, 1, length)
	select {
	case <-transport.closed:
	default:
		t.Error("transport not closed")
	}
}
