// Command boardwatch joins a whiteboard room without a screen and logs what
// happens in it.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/zlnvch/whiteboard/protocol"
	"github.com/zlnvch/whiteboard/shape"
	"github.com/zlnvch/whiteboard/syncclient"
	"github.com/zlnvch/whiteboard/syncclient/canvas"
)

func main() {
	server := flag.String("server", "ws://localhost:8080/ws", "relay websocket URL")
	room := flag.String("room", "", "room id to join")
	token := flag.String("token", os.Getenv("WHITEBOARD_TOKEN"), "session token (default $WHITEBOARD_TOKEN)")
	name := flag.String("name", "boardwatch", "display name used for chat")
	say := flag.String("say", "", "chat message to send once joined")
	flag.Parse()

	if *room == "" || *token == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	surface := canvas.New()
	var client *syncclient.Client
	said := false

	onState := func(state syncclient.State, err error) {
		if err != nil {
			log.Printf("Connection %s: %v", state, err)
		} else {
			log.Printf("Connection %s", state)
		}
		if state == syncclient.Active && *say != "" && !said {
			said = true
			// Run the send off the client's state transition
			go func() {
				if _, err := client.SendChat(*say); err != nil {
					log.Printf("Failed to send chat: %v", err)
				}
			}()
		}
	}

	client, err := syncclient.New(*room, *name, syncclient.DialWebsocket(*server, *token), surface,
		syncclient.WithStateHook(onState),
		syncclient.WithEventHook(logEvent),
	)
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}

	if err := client.Run(ctx); err != nil {
		if errors.Is(err, syncclient.ErrRejected) {
			log.Fatalf("Relay rejected the token: %v", err)
		}
		log.Fatalf("Lost the relay: %v", err)
	}
	log.Printf("Left room %s with %d shapes on the canvas", *room, len(surface.Shapes()))
}

func logEvent(ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.DrawLine:
		s, err := shape.Deserialize(e.Shape)
		if err != nil {
			return
		}
		log.Printf("stroke %s width=%.0f points=%d at (%.0f, %.0f)", s.Stroke, s.StrokeWidth, len(s.Path), s.Left, s.Top)
	case protocol.Clear:
		log.Printf("board cleared")
	case protocol.CursorMove:
		log.Printf("cursor %s (%s) at (%.0f, %.0f)", e.Username, e.ConnectionId, e.X, e.Y)
	case protocol.ReceiveMessage:
		log.Printf("chat %s: %s", e.Message.Sender, e.Message.Text)
	case protocol.MemberLeft:
		log.Printf("member %s left", e.ConnectionId)
	}
}
