package mq

import "context"

// MessageQueue is an at-least-once work queue. Receive returns nil, nil when
// a poll comes back empty.
type MessageQueue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, visibilityTimeout int32) (*Message, error)
	Delete(ctx context.Context, msg *Message) error
}

type Message struct {
	// Id is the receipt handle needed to delete the message.
	Id   string
	Body string
}
