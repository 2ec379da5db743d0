package service

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Room ids are opaque, but they end up in redis channel names and dynamo
// keys, so the alphabet is restricted.
var roomIdRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

const (
	maxChatLength        = 2000
	maxDisplayNameLength = 64
)

var ErrInvalidRoomId = errors.New("invalid room id")

func ValidateRoomId(roomId string) error {
	if !roomIdRegex.MatchString(roomId) {
		return ErrInvalidRoomId
	}
	return nil
}

func ValidateChatText(text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("empty message")
	}
	if utf8.RuneCountInString(text) > maxChatLength {
		return errors.New("message too long")
	}
	return nil
}

// NormalizeDisplayName trims name and falls back to "User" like the web
// client does when the identity provider has no name.
func NormalizeDisplayName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "User"
	}
	if utf8.RuneCountInString(name) > maxDisplayNameLength {
		name = string([]rune(name)[:maxDisplayNameLength])
	}
	return name
}
