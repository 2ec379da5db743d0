package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/zlnvch/whiteboard/models"
)

const tokenLifetime = 24 * time.Hour

// userInfo is the subset of the OIDC userinfo response we use.
type userInfo struct {
	Sub               string `json:"sub"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
}

func (s *Service) HandleOauth(ctx context.Context, code string) (models.Identity, error) {
	if s.OIDC.OAuth == nil || s.OIDC.UserInfoURL == "" {
		return models.Identity{}, errors.New("identity provider not configured")
	}

	tok, err := s.OIDC.OAuth.Exchange(ctx, code)
	if err != nil {
		log.Printf("OIDC code exchange failed: %v", err)
		return models.Identity{}, err
	}

	client := s.OIDC.OAuth.Client(ctx, tok)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.OIDC.UserInfoURL, nil)
	if err != nil {
		return models.Identity{}, err
	}

	resp, err := client.Do(req)
	if err != nil {
		log.Printf("OIDC userinfo request failed: %v", err)
		return models.Identity{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Identity{}, fmt.Errorf("userinfo returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Identity{}, err
	}

	return parseIdentity(body)
}

func parseIdentity(jsonData []byte) (models.Identity, error) {
	var info userInfo
	if err := json.Unmarshal(jsonData, &info); err != nil {
		return models.Identity{}, err
	}
	if info.Sub == "" {
		return models.Identity{}, errors.New("userinfo missing sub")
	}

	name := info.Name
	if name == "" {
		name = info.PreferredUsername
	}
	return models.Identity{Id: info.Sub, DisplayName: NormalizeDisplayName(name)}, nil
}

func (s *Service) CreateJWT(identity models.Identity) (string, error) {
	claims := jwt.MapClaims{
		"sub":  identity.Id,
		"name": identity.DisplayName,
		"exp":  time.Now().Add(tokenLifetime).Unix(),
		"iat":  time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.JWTSecret)
}

func (s *Service) VerifyJWT(tokenString string) (models.Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return s.JWTSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return models.Identity{}, err
	}

	if !token.Valid {
		return models.Identity{}, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return models.Identity{}, errors.New("invalid token claims")
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return models.Identity{}, errors.New("missing sub claim")
	}

	name, _ := claims["name"].(string)

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return models.Identity{}, errors.New("missing exp claim")
	}

	return models.Identity{
		Id:          sub,
		DisplayName: NormalizeDisplayName(name),
		Expiry:      exp.Unix(),
	}, nil
}

// AuthenticateToken is the session validity check used by every endpoint.
func (s *Service) AuthenticateToken(token string) (models.Identity, error) {
	if len(token) == 0 {
		return models.Identity{}, errors.New("token not provided")
	}
	return s.VerifyJWT(token)
}

func (s *Service) Login(ctx context.Context, code string) (models.Identity, string, error) {
	identity, err := s.HandleOauth(ctx, code)
	if err != nil {
		return models.Identity{}, "", fmt.Errorf("oauth failed: %w", err)
	}

	token, err := s.CreateJWT(identity)
	if err != nil {
		return models.Identity{}, "", fmt.Errorf("token generation failed: %w", err)
	}

	return identity, token, nil
}
