package rest

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/zlnvch/whiteboard/models"
	"github.com/zlnvch/whiteboard/service"
	"github.com/zlnvch/whiteboard/store"
)

type Handler struct {
	Service *service.Service
}

func NewHandler(svc *service.Service) *Handler {
	return &Handler{Service: svc}
}

type loginRequest struct {
	Code string `json:"code"`
}

type loginResponse struct {
	Id          string `json:"id"`
	DisplayName string `json:"displayName"`
	Token       string `json:"token"`
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	identity, token, err := h.Service.Login(r.Context(), req.Code)
	if err != nil {
		log.Printf("Login failed: %v", err)
		http.Error(w, "login failed", http.StatusUnauthorized)
		return
	}

	h.sendResponse(w, loginResponse{
		Id:          identity.Id,
		DisplayName: identity.DisplayName,
		Token:       token,
	})
}

type meResponse struct {
	Id          string `json:"id"`
	DisplayName string `json:"displayName"`
	Expiry      int64  `json:"expiry"`
}

func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	identity, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	h.sendResponse(w, meResponse{
		Id:          identity.Id,
		DisplayName: identity.DisplayName,
		Expiry:      identity.Expiry,
	})
}

type sessionResponse struct {
	Id          string `json:"id"`
	OwnerId     string `json:"ownerId"`
	OwnerName   string `json:"ownerName"`
	Created     int64  `json:"created"`
	LastClosed  int64  `json:"lastClosed,omitempty"`
	Strokes     int    `json:"strokes"`
	Messages    int    `json:"messages"`
	LiveMembers int64  `json:"liveMembers"`
}

func toSessionResponse(session models.Session, liveMembers int64) sessionResponse {
	return sessionResponse{
		Id:          session.Id,
		OwnerId:     session.OwnerId,
		OwnerName:   session.OwnerName,
		Created:     session.Created,
		LastClosed:  session.LastClosed,
		Strokes:     session.Strokes,
		Messages:    session.Messages,
		LiveMembers: liveMembers,
	}
}

func (h *Handler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	session, err := h.Service.CreateSession(r.Context(), identity)
	if err != nil {
		log.Printf("Create session failed: %v", err)
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Location", "/sessions/"+session.Id)
	h.sendResponseStatus(w, http.StatusCreated, toSessionResponse(session, 0))
}

func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}

	info, err := h.Service.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		if errors.Is(err, service.ErrInvalidRoomId) {
			http.Error(w, "invalid session id", http.StatusBadRequest)
			return
		}
		log.Printf("Get session failed: %v", err)
		http.Error(w, "failed to get session", http.StatusInternalServerError)
		return
	}

	h.sendResponse(w, toSessionResponse(info.Session, info.LiveMembers))
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (models.Identity, bool) {
	identity, err := h.Service.AuthenticateToken(h.getTokenFromAuthHeader(r))
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return models.Identity{}, false
	}
	return identity, true
}

func (h *Handler) sendResponse(w http.ResponseWriter, resp any) {
	h.sendResponseStatus(w, http.StatusOK, resp)
}

func (h *Handler) sendResponseStatus(w http.ResponseWriter, status int, resp any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func (h *Handler) getTokenFromAuthHeader(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return ""
	}
	return strings.TrimPrefix(authHeader, prefix)
}
