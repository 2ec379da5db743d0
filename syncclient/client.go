// Package syncclient joins a whiteboard room through the relay and keeps a
// local canvas, undo history, remote cursors and chat log in step with it.
package syncclient

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gofrs/uuid/v5"
	"github.com/zlnvch/whiteboard/models"
	"github.com/zlnvch/whiteboard/protocol"
	"github.com/zlnvch/whiteboard/shape"
	"github.com/zlnvch/whiteboard/syncclient/history"
	"github.com/zlnvch/whiteboard/syncclient/presence"
	"golang.org/x/time/rate"
)

// ErrNotActive is returned by operations that need a live room session.
var ErrNotActive = errors.New("syncclient: not active")

type State int

const (
	Disconnected State = iota
	Joining
	Active
)

func (s State) String() string {
	switch s {
	case Joining:
		return "joining"
	case Active:
		return "active"
	default:
		return "disconnected"
	}
}

// Surface is the rendering collaborator. Snapshots from SerializeState are
// opaque to the client and only ever handed back to LoadState.
type Surface interface {
	Add(s shape.Shape)
	Clear()
	SerializeState() ([]byte, error)
	LoadState(snapshot []byte) error
}

// Client is one participant's session in one room. All local state is
// mutated under a single lock, so handlers run to completion one at a time.
type Client struct {
	roomId      string
	displayName string
	dial        Dialer
	surface     Surface
	opts        options

	mu        sync.Mutex
	state     State
	transport Transport
	history   *history.Stack
	presence  *presence.Tracker
	chat      []models.ChatMessage
	cancel    context.CancelFunc
}

func New(roomId string, displayName string, dial Dialer, surface Surface, opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	blank, err := surface.SerializeState()
	if err != nil {
		return nil, err
	}

	return &Client{
		roomId:      roomId,
		displayName: displayName,
		dial:        dial,
		surface:     surface,
		opts:        o,
		history:     history.New(blank),
		presence:    presence.NewTracker(),
	}, nil
}

// Run connects, joins the room and applies incoming events until ctx ends,
// Close is called, or the relay cannot be reached within the reconnect
// window. A dropped connection is redialled and the room rejoined.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer c.teardown()

	for {
		c.setState(Joining, nil)

		t, err := backoff.Retry(ctx, func() (Transport, error) {
			t, err := c.dial(ctx)
			if err != nil {
				log.Printf("Failed to connect to relay: %v", err)
				if errors.Is(err, ErrRejected) {
					return nil, backoff.Permanent(err)
				}
				return nil, err
			}
			return t, nil
		}, backoff.WithBackOff(c.opts.newBackOff()), backoff.WithMaxElapsedTime(c.opts.reconnectWindow))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			terr := &TransportError{Op: "dial", Err: err}
			c.setState(Disconnected, terr)
			return terr
		}

		if err = c.activate(ctx, t); err == nil {
			err = c.readLoop(ctx, t)
		}
		c.deactivate(t)
		if ctx.Err() != nil {
			return nil
		}

		terr := &TransportError{Op: "receive", Err: err}
		c.setState(Disconnected, terr)
		if errors.Is(err, ErrRejected) {
			return terr
		}
		log.Printf("Lost connection to relay, reconnecting: %v", err)
	}
}

// activate sends the join and enters Active without waiting for an ack.
func (c *Client) activate(ctx context.Context, t Transport) error {
	frame, err := protocol.Encode(protocol.JoinRoom{RoomId: c.roomId})
	if err != nil {
		return err
	}
	if err := t.Send(ctx, frame); err != nil {
		return err
	}

	c.mu.Lock()
	c.transport = t
	c.mu.Unlock()
	c.setState(Active, nil)
	return nil
}

func (c *Client) deactivate(t Transport) {
	t.Close()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transport = nil
	// Cursors may belong to members that left while we were away
	c.presence.Reset()
}

func (c *Client) readLoop(ctx context.Context, t Transport) error {
	for {
		frame, err := t.Receive(ctx)
		if err != nil {
			return err
		}
		c.handleFrame(frame)
	}
}

func (c *Client) teardown() {
	c.mu.Lock()
	if c.transport != nil {
		c.transport.Close()
		c.transport = nil
	}
	c.presence.Reset()
	c.history.Reset()
	c.mu.Unlock()
	c.setState(Disconnected, nil)
}

// Close leaves the room and stops Run.
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Client) setState(state State, err error) {
	c.mu.Lock()
	changed := c.state != state
	c.state = state
	c.mu.Unlock()

	if changed && c.opts.onState != nil {
		c.opts.onState(state, err)
	}
}

func (c *Client) handleFrame(frame []byte) {
	event, err := protocol.Decode(frame)
	if err != nil {
		log.Printf("Dropping frame from relay: %v", err)
		return
	}
	if event.Room() != c.roomId {
		return
	}

	c.mu.Lock()
	applied := c.applyLocked(event)
	c.mu.Unlock()

	if applied && c.opts.onEvent != nil {
		c.opts.onEvent(event)
	}
}

func (c *Client) applyLocked(event protocol.Event) bool {
	switch e := event.(type) {
	case protocol.DrawLine:
		s, err := shape.Deserialize(e.Shape)
		if err != nil {
			log.Printf("Dropping stroke: %v", err)
			return false
		}
		c.surface.Add(s)
		c.recordLocked()

	case protocol.Clear:
		c.surface.Clear()
		c.recordLocked()

	case protocol.CursorMove:
		if e.ConnectionId == "" {
			return false
		}
		c.presence.Upsert(e.ConnectionId, e.Username, e.X, e.Y)

	case protocol.ReceiveMessage:
		c.chat = append(c.chat, e.Message)

	case protocol.MemberLeft:
		c.presence.Remove(e.ConnectionId)

	default:
		return false
	}
	return true
}

func (c *Client) recordLocked() {
	snapshot, err := c.surface.SerializeState()
	if err != nil {
		log.Printf("Failed to snapshot canvas: %v", err)
		return
	}
	c.history.Record(snapshot)
}

func (c *Client) sendLocked(event protocol.Event) error {
	if c.state != Active || c.transport == nil {
		return ErrNotActive
	}
	frame, err := protocol.Encode(event)
	if err != nil {
		return err
	}
	if err := c.transport.Send(context.Background(), frame); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	return nil
}

// CompleteStroke draws s locally, records it for undo and sends it to the
// room. The stroke stays on the local canvas even when it cannot be sent.
func (c *Client) CompleteStroke(s shape.Shape) error {
	payload, err := shape.Serialize(s)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.surface.Add(s)
	c.recordLocked()
	return c.sendLocked(protocol.DrawLine{RoomId: c.roomId, Shape: payload})
}

// MoveCursor reports the local pointer. Moves over the throttle rate are
// dropped without error.
func (c *Client) MoveCursor(x float64, y float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Active {
		return ErrNotActive
	}
	if c.opts.cursorLimiter != nil && !c.opts.cursorLimiter.Allow() {
		return nil
	}
	return c.sendLocked(protocol.CursorMove{RoomId: c.roomId, Username: c.displayName, X: x, Y: y})
}

// ClearBoard clears the local canvas, records the blank result and tells
// the room.
func (c *Client) ClearBoard() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.surface.Clear()
	c.recordLocked()
	return c.sendLocked(protocol.Clear{RoomId: c.roomId})
}

// SendChat sends text to the room and appends it to the local log without
// waiting for the relay.
func (c *Client) SendChat(text string) (models.ChatMessage, error) {
	msg := models.ChatMessage{
		Id:        uuid.Must(uuid.NewV4()).String(),
		Text:      text,
		Sender:    c.displayName,
		Timestamp: time.Now().UnixMilli(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sendLocked(protocol.SendMessage{RoomId: c.roomId, Message: msg}); err != nil {
		return models.ChatMessage{}, err
	}
	c.chat = append(c.chat, msg)
	return msg, nil
}

// Undo restores the previous local snapshot. Undo at the blank snapshot
// does nothing. Nothing is sent to the room.
func (c *Client) Undo() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot, err := c.history.Undo()
	if errors.Is(err, history.ErrHistoryUnderflow) {
		return nil
	}
	if err != nil {
		return err
	}
	return c.surface.LoadState(snapshot)
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) RoomId() string {
	return c.roomId
}

func (c *Client) Cursors() []presence.Glyph {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.presence.All()
}

func (c *Client) Chat() []models.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.ChatMessage(nil), c.chat...)
}

// HistoryStep reports the undo cursor and the number of snapshots held.
func (c *Client) HistoryStep() (step int, length int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.Step(), c.history.Len()
}

type options struct {
	cursorLimiter   *rate.Limiter
	newBackOff      func() backoff.BackOff
	reconnectWindow time.Duration
	onState         func(State, error)
	onEvent         func(protocol.Event)
}

func defaultOptions() options {
	return options{
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
		reconnectWindow: 15 * time.Minute,
	}
}

type Option func(*options)

// WithCursorRate throttles outgoing cursor moves.
func WithCursorRate(limit rate.Limit, burst int) Option {
	return func(o *options) {
		o.cursorLimiter = rate.NewLimiter(limit, burst)
	}
}

// WithBackOff sets the delay policy between reconnect attempts.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(o *options) {
		o.newBackOff = newBackOff
	}
}

// WithReconnectWindow bounds how long Run keeps redialling before giving up.
func WithReconnectWindow(d time.Duration) Option {
	return func(o *options) {
		o.reconnectWindow = d
	}
}

// WithStateHook is called on every state change with the error that caused
// it, if any. It drives a connectivity indicator.
func WithStateHook(fn func(State, error)) Option {
	return func(o *options) {
		o.onState = fn
	}
}

// WithEventHook is called after each incoming event has been applied.
func WithEventHook(fn func(protocol.Event)) Option {
	return func(o *options) {
		o.onEvent = fn
	}
}
