package service_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	cachemocks "github.com/zlnvch/whiteboard/cache/mocks"
	mqmocks "github.com/zlnvch/whiteboard/mq/mocks"
	"github.com/zlnvch/whiteboard/service"
	storemocks "github.com/zlnvch/whiteboard/store/mocks"
	"github.com/zlnvch/whiteboard/worker"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func setupService(t *testing.T) (*service.Service, *storemocks.MockStore, *cachemocks.MockCache, *mqmocks.MockMQ, *worker.ActivityBatcher) {
	mockStore := new(storemocks.MockStore)
	mockCache := new(cachemocks.MockCache)
	mockMQ := new(mqmocks.MockMQ)

	// Real batcher; tests read what was pushed to its channel
	activityBatcher := worker.NewActivityBatcher(mockStore, 1000)
	memberCounter := worker.NewMemberCounter(mockCache)

	svc, err := service.NewService(
		mockStore,
		mockCache,
		mockMQ,
		activityBatcher,
		memberCounter,
		service.OIDCProvider{},
		testSecret,
		"instance-1",
	)
	require.NoError(t, err)

	return svc, mockStore, mockCache, mockMQ, activityBatcher
}
