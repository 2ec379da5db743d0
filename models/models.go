package models

// Identity is who a connection speaks for. It comes from the identity
// provider and is never stored by the relay.
type Identity struct {
	Id          string
	DisplayName string
	Expiry      int64
}

type Session struct {
	Id         string
	OwnerId    string
	OwnerName  string
	Created    int64
	LastClosed int64
	Strokes    int
	Messages   int
}

// ChatMessage is ordered by arrival at each client, not by Timestamp.
type ChatMessage struct {
	Id        string `json:"id"`
	Text      string `json:"text"`
	Sender    string `json:"sender"`
	Timestamp int64  `json:"timestamp"`
}
