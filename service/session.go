package service

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/zlnvch/whiteboard/models"
	"github.com/zlnvch/whiteboard/worker"
)

func (s *Service) CreateSession(ctx context.Context, owner models.Identity) (models.Session, error) {
	sessionId, err := uuid.NewV4()
	if err != nil {
		return models.Session{}, err
	}

	return s.Store.CreateSession(ctx, models.Session{
		Id:        sessionId.String(),
		OwnerId:   owner.Id,
		OwnerName: owner.DisplayName,
	})
}

type SessionInfo struct {
	Session     models.Session
	LiveMembers int64
}

// GetSession returns ErrInvalidRoomId for a malformed id and
// store.ErrItemNotFound for an unknown one.
func (s *Service) GetSession(ctx context.Context, sessionId string) (SessionInfo, error) {
	if err := ValidateRoomId(sessionId); err != nil {
		return SessionInfo{}, err
	}

	session, err := s.Store.GetSession(ctx, sessionId)
	if err != nil {
		return SessionInfo{}, err
	}

	members, err := s.Cache.GetRoomMembers(ctx, sessionId)
	if err != nil {
		// The directory entry is still useful without the live count
		log.Printf("Failed to read live members for %s: %v", sessionId, err)
		members = 0
	}

	return SessionInfo{Session: session, LiveMembers: members}, nil
}

// MemberJoined and MemberLeft keep the cross-instance member counter in
// step with the relay. Deltas are applied in call order off the caller's
// goroutine.
func (s *Service) MemberJoined(roomId string) {
	if s.MemberCounter != nil {
		s.MemberCounter.Record(worker.MemberDelta{RoomId: roomId, Joined: true})
	}
}

// MemberLeft records a departure. emptiedLocally reports whether the room
// has no members left on this instance.
func (s *Service) MemberLeft(roomId string, emptiedLocally bool) {
	if s.MemberCounter != nil {
		s.MemberCounter.Record(worker.MemberDelta{RoomId: roomId, LocalEmpty: emptiedLocally})
	}
}

// RoomClosed queues a room-closed notice for the session directory. It runs
// once the room has no members on any instance.
func (s *Service) RoomClosed(roomId string) {
	go func() {
		msg := worker.RoomClosedMessage{
			RoomId:   roomId,
			ClosedAt: time.Now().Unix(),
			Instance: s.InstanceId,
		}
		msgBytes, err := json.Marshal(msg)
		if err != nil {
			return
		}
		if err := s.MQ.Send(context.Background(), string(msgBytes)); err != nil {
			log.Printf("Failed to queue room-closed for %s: %v", roomId, err)
		}
	}()
}

func (s *Service) RecordStroke(roomId string) {
	if s.ActivityBatcher != nil {
		s.ActivityBatcher.Record(worker.ActivityUpdate{SessionId: roomId, Strokes: 1})
	}
}

func (s *Service) RecordMessage(roomId string) {
	if s.ActivityBatcher != nil {
		s.ActivityBatcher.Record(worker.ActivityUpdate{SessionId: roomId, Messages: 1})
	}
}
