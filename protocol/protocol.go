package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zlnvch/whiteboard/models"
)

type EventType string

const (
	TypeJoinRoom       EventType = "join-room"
	TypeDrawLine       EventType = "draw-line"
	TypeClear          EventType = "clear"
	TypeCursorMove     EventType = "cursor-move"
	TypeSendMessage    EventType = "send-message"
	TypeReceiveMessage EventType = "receive-message"
	TypeMemberLeft     EventType = "member-left"
)

// Event is the closed set of messages exchanged between clients and the
// relay. Only the types in this package implement it.
type Event interface {
	Type() EventType
	Room() string
	event()
}

type JoinRoom struct {
	RoomId string `json:"roomId"`
}

// DrawLine carries one serialized stroke. The relay forwards Shape without
// looking inside it.
type DrawLine struct {
	RoomId string          `json:"roomId"`
	Shape  json.RawMessage `json:"data"`
}

type Clear struct {
	RoomId string `json:"roomId"`
}

// CursorMove is superseding: the latest one per ConnectionId wins.
// ConnectionId is filled in by the relay, never trusted from the sender.
type CursorMove struct {
	RoomId       string  `json:"roomId"`
	Username     string  `json:"username"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	ConnectionId string  `json:"socketId,omitempty"`
}

type SendMessage struct {
	RoomId  string             `json:"roomId"`
	Message models.ChatMessage `json:"message"`
}

type ReceiveMessage struct {
	RoomId  string             `json:"roomId"`
	Message models.ChatMessage `json:"message"`
}

// MemberLeft tells the remaining members of a room that a connection is
// gone so they can drop its cursor.
type MemberLeft struct {
	RoomId       string `json:"roomId"`
	ConnectionId string `json:"socketId"`
}

func (JoinRoom) Type() EventType       { return TypeJoinRoom }
func (DrawLine) Type() EventType       { return TypeDrawLine }
func (Clear) Type() EventType          { return TypeClear }
func (CursorMove) Type() EventType     { return TypeCursorMove }
func (SendMessage) Type() EventType    { return TypeSendMessage }
func (ReceiveMessage) Type() EventType { return TypeReceiveMessage }
func (MemberLeft) Type() EventType     { return TypeMemberLeft }

func (e JoinRoom) Room() string       { return e.RoomId }
func (e DrawLine) Room() string       { return e.RoomId }
func (e Clear) Room() string          { return e.RoomId }
func (e CursorMove) Room() string     { return e.RoomId }
func (e SendMessage) Room() string    { return e.RoomId }
func (e ReceiveMessage) Room() string { return e.RoomId }
func (e MemberLeft) Room() string     { return e.RoomId }

func (JoinRoom) event()       {}
func (DrawLine) event()       {}
func (Clear) event()          {}
func (CursorMove) event()     {}
func (SendMessage) event()    {}
func (ReceiveMessage) event() {}
func (MemberLeft) event()     {}

// ClientOriginated reports whether clients are allowed to send t. The
// remaining types are only ever produced by the relay.
func ClientOriginated(t EventType) bool {
	switch t {
	case TypeJoinRoom, TypeDrawLine, TypeClear, TypeCursorMove, TypeSendMessage:
		return true
	}
	return false
}

type envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DecodeError reports a frame that is not a well-formed event. It is logged
// and dropped by every receiver.
type DecodeError struct {
	Type EventType
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Type == "" {
		return "event decode: " + e.Err.Error()
	}
	return fmt.Sprintf("event decode %s: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func Encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.Type(), err)
	}
	return json.Marshal(envelope{Type: ev.Type(), Data: data})
}

func Decode(frame []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, &DecodeError{Err: errors.New("invalid envelope")}
	}

	var (
		ev  Event
		err error
	)
	switch env.Type {
	case TypeJoinRoom:
		ev, err = decodeData[JoinRoom](env.Data)
	case TypeDrawLine:
		var d DrawLine
		d, err = decodeData[DrawLine](env.Data)
		if err == nil && len(d.Shape) == 0 {
			err = errors.New("missing shape payload")
		}
		ev = d
	case TypeClear:
		ev, err = decodeData[Clear](env.Data)
	case TypeCursorMove:
		ev, err = decodeData[CursorMove](env.Data)
	case TypeSendMessage:
		ev, err = decodeData[SendMessage](env.Data)
	case TypeReceiveMessage:
		ev, err = decodeData[ReceiveMessage](env.Data)
	case TypeMemberLeft:
		var m MemberLeft
		m, err = decodeData[MemberLeft](env.Data)
		if err == nil && m.ConnectionId == "" {
			err = errors.New("missing connection id")
		}
		ev = m
	default:
		return nil, &DecodeError{Type: env.Type, Err: errors.New("unknown event type")}
	}

	if err != nil {
		return nil, &DecodeError{Type: env.Type, Err: err}
	}
	if ev.Room() == "" {
		return nil, &DecodeError{Type: env.Type, Err: errors.New("missing room id")}
	}
	return ev, nil
}

func decodeData[T Event](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, errors.New("missing data")
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, errors.New("invalid data")
	}
	return v, nil
}
