package service

import (
	"errors"

	"github.com/zlnvch/whiteboard/cache"
	"github.com/zlnvch/whiteboard/mq"
	"github.com/zlnvch/whiteboard/store"
	"github.com/zlnvch/whiteboard/worker"
	"golang.org/x/oauth2"
)

// OIDCProvider is the external identity provider users log in with.
type OIDCProvider struct {
	OAuth       *oauth2.Config
	UserInfoURL string
}

type Service struct {
	Store           store.WhiteboardStore
	Cache           cache.WhiteboardCache
	MQ              mq.MessageQueue
	ActivityBatcher *worker.ActivityBatcher
	MemberCounter   *worker.MemberCounter
	OIDC            OIDCProvider
	JWTSecret       []byte
	InstanceId      string
}

func NewService(
	store store.WhiteboardStore,
	cache cache.WhiteboardCache,
	mq mq.MessageQueue,
	activityBatcher *worker.ActivityBatcher,
	memberCounter *worker.MemberCounter,
	oidc OIDCProvider,
	jwtSecret []byte,
	instanceId string,
) (*Service, error) {
	if len(jwtSecret) == 0 {
		return nil, errors.New("jwt secret is required")
	}
	if oidc.OAuth != nil && len(oidc.OAuth.Scopes) == 0 {
		oidc.OAuth.Scopes = []string{"openid", "profile"}
	}

	return &Service{
		Store:           store,
		Cache:           cache,
		MQ:              mq,
		ActivityBatcher: activityBatcher,
		MemberCounter:   memberCounter,
		OIDC:            oidc,
		JWTSecret:       jwtSecret,
		InstanceId:      instanceId,
	}, nil
}
