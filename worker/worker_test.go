package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/zlnvch/whiteboard/mq"
	mqmocks "github.com/zlnvch/whiteboard/mq/mocks"
	"github.com/zlnvch/whiteboard/store"
	storemocks "github.com/zlnvch/whiteboard/store/mocks"
	"github.com/zlnvch/whiteboard/worker"
)

// Helper that creates a channel and wraps a mock call to signal when it's called
func wrapMockWithSignal(call *mock.Call) chan struct{} {
	done := make(chan struct{})
	call.Run(func(args mock.Arguments) {
		close(done)
	})
	return done
}

func waitFor(t *testing.T, done chan struct{}, what string) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		assert.Fail(t, "timed out waiting for "+what)
	}
}

func TestActivityBatcher_SumsPerSessionAndFlushesOnShutdown(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	s1Done := wrapMockWithSignal(mockStore.On("IncrementSessionActivity", mock.Anything, "s1", 2, 1).Return(nil).Once())
	s2Done := wrapMockWithSignal(mockStore.On("IncrementSessionActivity", mock.Anything, "s2", 1, 0).Return(store.ErrItemNotFound).Once())

	// Long ticker: only the shutdown flush can write
	batcher := worker.NewActivityBatcher(mockStore, 60000)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		batcher.Run(ctx)
		close(stopped)
	}()

	batcher.Record(worker.ActivityUpdate{SessionId: "s1", Strokes: 1})
	batcher.Record(worker.ActivityUpdate{SessionId: "s1", Strokes: 1, Messages: 1})
	batcher.Record(worker.ActivityUpdate{SessionId: "s2", Strokes: 1})
	batcher.Record(worker.ActivityUpdate{Strokes: 5})

	// Let the run loop drain the channel before shutting down
	assert.Eventually(t, func() bool { return len(batcher.UpdateCh) == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	cancel()

	waitFor(t, s1Done, "s1 flush")
	waitFor(t, s2Done, "s2 flush")
	waitFor(t, stopped, "batcher to stop")
	mockStore.AssertExpectations(t)
}

func TestActivityBatcher_FlushesOnTicker(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	done := wrapMockWithSignal(mockStore.On("IncrementSessionActivity", mock.Anything, "s1", 0, 3).Return(nil).Once())

	batcher := worker.NewActivityBatcher(mockStore, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go batcher.Run(ctx)

	batcher.Record(worker.ActivityUpdate{SessionId: "s1", Messages: 3})

	waitFor(t, done, "ticker flush")
}

func TestMQConsumer_MarksSessionClosedAndDeletes(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	mockMQ := new(mqmocks.MockMQ)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := &mq.Message{Id: "receipt-1", Body: `{"roomId":"r1","closedAt":1700000000,"instance":"i1"}`}
	mockMQ.On("Receive", mock.Anything, int32(30)).Return(msg, nil).Once()
	mockMQ.On("Receive", mock.Anything, int32(30)).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return(nil, context.Canceled)

	mockStore.On("MarkSessionClosed", mock.Anything, "r1", int64(1700000000)).Return(nil)
	deleted := wrapMockWithSignal(mockMQ.On("Delete", mock.Anything, msg).Return(nil))

	consumer := worker.NewMQConsumer(mockMQ, mockStore)
	go consumer.Run(ctx)

	waitFor(t, deleted, "message delete")
	mockStore.AssertExpectations(t)
}

func TestMQConsumer_KeepsMessageOnStoreFailure(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	mockMQ := new(mqmocks.MockMQ)
	ctx, cancel := context.WithCancel(context.Background())

	msg := &mq.Message{Id: "receipt-2", Body: `{"roomId":"r2","closedAt":5}`}
	mockMQ.On("Receive", mock.Anything, int32(30)).Return(msg, nil).Once()
	mockMQ.On("Receive", mock.Anything, int32(30)).Return(nil, context.Canceled)
	storeCalled := wrapMockWithSignal(mockStore.On("MarkSessionClosed", mock.Anything, "r2", int64(5)).Return(errors.New("throttled")))

	consumer := worker.NewMQConsumer(mockMQ, mockStore)
	stopped := make(chan struct{})
	go func() {
		consumer.Run(ctx)
		close(stopped)
	}()

	waitFor(t, storeCalled, "store call")
	waitFor(t, stopped, "consumer to stop")
	cancel()
	mockMQ.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestMQConsumer_DiscardsMalformedMessage(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	mockMQ := new(mqmocks.MockMQ)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := &mq.Message{Id: "receipt-3", Body: `not json`}
	mockMQ.On("Receive", mock.Anything, int32(30)).Return(msg, nil).Once()
	mockMQ.On("Receive", mock.Anything, int32(30)).Return(nil, context.Canceled)
	deleted := wrapMockWithSignal(mockMQ.On("Delete", mock.Anything, msg).Return(nil))

	consumer := worker.NewMQConsumer(mockMQ, mockStore)
	go consumer.Run(ctx)

	waitFor(t, deleted, "malformed message delete")
	mockStore.AssertNotCalled(t, "MarkSessionClosed", mock.Anything, mock.Anything, mock.Anything)
}

// countingCache keeps member counts the way the redis adapter does: a
// decrement that reaches zero or below deletes the key.
type countingCache struct {
	mu        sync.Mutex
	counts    map[string]int64
	incrDelay time.Duration
	decrErr   error
}

func newCountingCache() *countingCache {
	return &countingCache{counts: make(map[string]int64)}
}

func (c *countingCache) Publish(ctx context.Context, channel string, message []byte) error {
	return nil
}

func (c *countingCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	return nil
}

func (c *countingCache) IncrementRoomMembers(ctx context.Context, roomId string) (int64, error) {
	time.Sleep(c.incrDelay)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[roomId]++
	return c.counts[roomId], nil
}

func (c *countingCache) DecrementRoomMembers(ctx context.Context, roomId string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.decrErr != nil {
		return 0, c.decrErr
	}
	c.counts[roomId]--
	if c.counts[roomId] <= 0 {
		delete(c.counts, roomId)
		return 0, nil
	}
	return c.counts[roomId], nil
}

func (c *countingCache) GetRoomMembers(ctx context.Context, roomId string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[roomId], nil
}

func runMemberCounter(t *testing.T, counter *worker.MemberCounter) chan string {
	emptied := make(chan string, 16)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go counter.Run(ctx, func(roomId string) { emptied <- roomId })
	return emptied
}

func TestMemberCounter_JoinThenImmediateLeaveEndsAtZero(t *testing.T) {
	counts := newCountingCache()
	// A slow increment must still land before the decrement queued after it
	counts.incrDelay = 20 * time.Millisecond
	counter := worker.NewMemberCounter(counts)
	emptied := runMemberCounter(t, counter)

	counter.Record(worker.MemberDelta{RoomId: "room-1", Joined: true})
	counter.Record(worker.MemberDelta{RoomId: "room-1", LocalEmpty: true})

	select {
	case roomId := <-emptied:
		assert.Equal(t, "room-1", roomId)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for room to empty")
	}

	count, err := counts.GetRoomMembers(context.Background(), "room-1")
	assert.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestMemberCounter_RoomStillLiveElsewhereIsNotEmptied(t *testing.T) {
	counts := newCountingCache()
	// Another instance already holds a member of room-1
	counts.counts["room-1"] = 1
	counter := worker.NewMemberCounter(counts)
	emptied := runMemberCounter(t, counter)

	counter.Record(worker.MemberDelta{RoomId: "room-1", Joined: true})
	counter.Record(worker.MemberDelta{RoomId: "room-1", LocalEmpty: true})
	counter.Record(worker.MemberDelta{RoomId: "room-2", Joined: true})
	counter.Record(worker.MemberDelta{RoomId: "room-2", LocalEmpty: true})

	select {
	case roomId := <-emptied:
		assert.Equal(t, "room-2", roomId)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for room-2 to empty")
	}

	count, err := counts.GetRoomMembers(context.Background(), "room-1")
	assert.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Empty(t, emptied)
}

func TestMemberCounter_FallsBackToLocalEmptinessWhenCacheFails(t *testing.T) {
	counts := newCountingCache()
	counts.decrErr = errors.New("redis down")
	counter := worker.NewMemberCounter(counts)
	emptied := runMemberCounter(t, counter)

	counter.Record(worker.MemberDelta{RoomId: "room-1"})
	counter.Record(worker.MemberDelta{RoomId: "room-2", LocalEmpty: true})

	select {
	case roomId := <-emptied:
		assert.Equal(t, "room-2", roomId)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for local fallback")
	}
	assert.Empty(t, emptied)
}
