package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/repotalk/repotalk-server/internal/auth"
	"github.com/repotalk/repotalk-server/internal/core"
	"github.com/repotalk/repotalk-server/internal/repoid"
)

type contextKey string

const userIDKey contextKey = "userID"

type APIHandler struct {
	chatService *core.ChatService
}

func NewAPIHandler(cs *core.ChatService) *APIHandler {
	return &APIHandler{chatService: cs}
}

// JWTAuthMiddleware verifies the bearer token minted by the external auth
// service and attaches the asserted user id to the request context. Nothing
// past this middleware runs without an identity.
func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header is required")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		userID, err := auth.ValidateJWT(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		ctx := withUserID(r.Context(), userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type IngestRequest struct {
	RepoURL string `json:"repoUrl"`
	Branch  string `json:"branch"`
}

// IngestRepoHandler forwards a repository-ingestion request to the AI
// service. The upstream response body is relayed unchanged; the resolved
// conversation id travels in the X-Repo-Id header so the UI can open the new
// conversation. Large repositories take minutes to ingest.
func (h *APIHandler) IngestRepoHandler(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	body, resolvedID, err := h.chatService.IngestRepository(req.RepoURL, req.Branch)
	if err != nil {
		var upstream *core.UpstreamError
		switch {
		case errors.Is(err, repoid.ErrInvalidRepoRef):
			writeError(w, http.StatusBadRequest, "Invalid repository URL")
		case errors.As(err, &upstream):
			// Pass the AI service's error through verbatim.
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(upstream.Status)
			w.Write(upstream.Body)
		default:
			log.Error().Err(err).Str("repo_url", req.RepoURL).Msg("Ingestion failed")
			writeError(w, http.StatusInternalServerError, "Failed to ingest repository")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Repo-Id", resolvedID)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

type SaveMessageRequest struct {
	RepoID    string `json:"repoId"`
	UserQuery string `json:"userQuery"`
}

// SaveMessageHandler runs one chat exchange: query the AI service, persist
// the turn, return it. An AI failure still produces a 201 with the fallback
// answer recorded; only a persistence failure is a server error.
func (h *APIHandler) SaveMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	var req SaveMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	turn, err := h.chatService.Converse(r.Context(), userID, req.RepoID, req.UserQuery)
	if err != nil {
		if errors.Is(err, core.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Str("user_id", userID).Str("repo_id", req.RepoID).Msg("Failed to save message")
		writeError(w, http.StatusInternalServerError, "Failed to save message")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(turn)
}

// GetHistoryHandler returns all turns for one of the user's conversations,
// oldest first. The repo id arrives as a query parameter because branch
// names may contain slashes that would mangle a path segment.
func (h *APIHandler) GetHistoryHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	repoID := r.URL.Query().Get("repoId")
	if repoID == "" {
		writeError(w, http.StatusBadRequest, "repoId query parameter is required")
		return
	}

	turns, err := h.chatService.History(r.Context(), userID, repoID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Str("repo_id", repoID).Msg("Failed to get history")
		writeError(w, http.StatusInternalServerError, "Failed to get chat history")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(turns)
}

// ListUserChatsHandler returns the user's conversations, most recently
// active first.
func (h *APIHandler) ListUserChatsHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	summaries, err := h.chatService.ListConversations(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to list conversations")
		writeError(w, http.StatusInternalServerError, "Failed to list chats")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summaries)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
