package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DevMode       bool   `env:"DEV_MODE"`
	HostPort      string `env:"HOST_PORT" envDefault:"8080"`
	AllowedOrigin string `env:"ALLOWED_ORIGIN"`
	InstanceId    string `env:"INSTANCE_ID"`

	// JWTSecret is base64 encoded in the environment.
	JWTSecret string `env:"JWT_SECRET,required,notEmpty"`

	RedisEndpoint string `env:"REDIS_ENDPOINT" envDefault:"localhost:6379"`

	DynamoDBEndpoint string `env:"DYNAMODB_ENDPOINT"`
	DynamoDBTable    string `env:"DYNAMODB_TABLE" envDefault:"Whiteboard"`

	SQSEndpoint        string `env:"SQS_ENDPOINT"`
	SQSRoomClosedQueue string `env:"SQS_ROOM_CLOSED_QUEUE" envDefault:"RoomClosedQueue"`

	OIDC OIDCConfig `envPrefix:"OIDC_"`

	ActivityFlushMs int `env:"ACTIVITY_FLUSH_MS" envDefault:"30000"`
}

type OIDCConfig struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	AuthURL      string `env:"AUTH_URL"`
	TokenURL     string `env:"TOKEN_URL"`
	UserInfoURL  string `env:"USERINFO_URL"`
	RedirectURL  string `env:"REDIRECT_URL"`
}

// Load reads .env when present, then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Failed to read .env, using process environment only: %v", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.ActivityFlushMs <= 0 {
		return Config{}, errors.New("ACTIVITY_FLUSH_MS must be positive")
	}
	return cfg, nil
}

func (c Config) DecodedJWTSecret() ([]byte, error) {
	secret, err := base64.StdEncoding.DecodeString(c.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("decode JWT_SECRET: %w", err)
	}
	if len(secret) < 32 {
		return nil, errors.New("JWT_SECRET must decode to at least 32 bytes")
	}
	return secret, nil
}
