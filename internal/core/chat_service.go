package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/repotalk/repotalk-server/internal/repoid"
	"github.com/repotalk/repotalk-server/internal/store"
)

// aiFallbackAnswer is recorded as the bot's answer when the AI service could
// not produce one. The turn is still persisted so the conversation history
// keeps the question that was asked.
const aiFallbackAnswer = "Error connecting to AI service. Please try again later."

// TurnStore is what ChatService needs from the persistence layer.
type TurnStore interface {
	AppendTurn(ctx context.Context, userID, repoID, userQuery, botAnswer string, referencedFiles []string) (*store.Turn, error)
	ListTurns(ctx context.Context, userID, repoID string) ([]store.Turn, error)
	SummarizeConversations(ctx context.Context, userID string) ([]store.ConversationSummary, error)
}

type ChatService struct {
	turnStore TurnStore
	aiClient  AIClient
}

func NewChatService(turnStore TurnStore, aiClient AIClient) *ChatService {
	return &ChatService{
		turnStore: turnStore,
		aiClient:  aiClient,
	}
}

// Converse sends the user's query to the AI service and persists the
// resulting turn. An AI failure of any kind is absorbed: the turn is stored
// with a fallback answer and no referenced files, and returned without error.
// A storage failure is the opposite: it is always propagated, because a turn
// that was never persisted has no meaningful partial result.
func (s *ChatService) Converse(ctx context.Context, userID, repoID, userQuery string) (*store.Turn, error) {
	if strings.TrimSpace(userQuery) == "" {
		return nil, fmt.Errorf("%w: query must not be empty", ErrInvalidRequest)
	}
	if repoID == "" {
		return nil, fmt.Errorf("%w: repo id must not be empty", ErrInvalidRequest)
	}

	botAnswer := aiFallbackAnswer
	referencedFiles := []string{}

	result, err := s.aiClient.Chat(ctx, repoID, userQuery)
	if err != nil {
		log.Error().Err(err).Str("repo_id", repoID).Msg("AI service error, recording fallback answer")
	} else {
		botAnswer = result.Answer
		referencedFiles = result.Sources
	}

	// Persist even when the caller has gone away: the question was asked and
	// history must record it.
	turn, err := s.turnStore.AppendTurn(context.WithoutCancel(ctx), userID, repoID, userQuery, botAnswer, referencedFiles)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return turn, nil
}

// History returns the user's turns for one conversation, oldest first.
func (s *ChatService) History(ctx context.Context, userID, repoID string) ([]store.Turn, error) {
	if repoID == "" {
		return nil, fmt.Errorf("%w: repo id must not be empty", ErrInvalidRequest)
	}
	turns, err := s.turnStore.ListTurns(ctx, userID, repoID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return turns, nil
}

// ListConversations returns the user's distinct conversations, most recently
// active first.
func (s *ChatService) ListConversations(ctx context.Context, userID string) ([]store.ConversationSummary, error) {
	summaries, err := s.turnStore.SummarizeConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return summaries, nil
}

// IngestRepository resolves the canonical conversation id for the repository
// and forwards the ingestion request to the AI service. The upstream body is
// relayed unchanged; a structured upstream error passes through as
// *UpstreamError. The resolved id is returned alongside so the caller can
// start the new conversation under it.
func (s *ChatService) IngestRepository(repoURL, branch string) ([]byte, string, error) {
	id, err := repoid.Parse(repoURL, branch)
	if err != nil {
		return nil, "", err
	}

	body, err := s.aiClient.Ingest(repoURL, branchOrDefault(branch))
	if err != nil {
		return nil, "", err
	}
	return body, id.String(), nil
}

func branchOrDefault(branch string) string {
	if branch == "" {
		return repoid.DefaultBranch
	}
	return branch
}
