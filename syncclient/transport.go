package syncclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Subprotocol is offered first; the relay expects the token second.
	Subprotocol = "whiteboard-v1"

	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	maxFrameSize     = 1024 * 512
)

// ErrRejected is returned by a transport when the relay refused the
// connection, for example because the token expired. It is not retried.
var ErrRejected = errors.New("syncclient: rejected by relay")

// Transport is one open connection to the relay. Send and Receive may be
// called from different goroutines; each is called from one at a time.
type Transport interface {
	Send(ctx context.Context, frame []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens a new Transport. It is called again for every reconnect.
type Dialer func(ctx context.Context) (Transport, error)

// TransportError reports a lost or failed connection. It is surfaced through
// the state hook and never crashes the client.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

type wsTransport struct {
	conn *websocket.Conn
}

// DialWebsocket returns a Dialer for the relay's websocket endpoint,
// authenticating with token through the subprotocol header.
func DialWebsocket(url string, token string) Dialer {
	return func(ctx context.Context) (Transport, error) {
		dialer := websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
			Subprotocols:     []string{Subprotocol, token},
		}
		conn, resp, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusUnauthorized {
				return nil, fmt.Errorf("%w: %v", ErrRejected, err)
			}
			return nil, err
		}
		conn.SetReadLimit(maxFrameSize)
		return &wsTransport{conn: conn}, nil
	}
}

func (t *wsTransport) Send(ctx context.Context, frame []byte) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeWait)
	}
	t.conn.SetWriteDeadline(deadline)
	return t.conn.WriteMessage(websocket.TextMessage, frame)
}

func (t *wsTransport) Receive(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		// Unblocks ReadMessage
		t.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		messageType, frame, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
				return nil, fmt.Errorf("%w: %v", ErrRejected, err)
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if messageType == websocket.TextMessage {
			return frame, nil
		}
	}
}

func (t *wsTransport) Close() error {
	t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return t.conn.Close()
}
