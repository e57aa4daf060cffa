package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repotalk/repotalk-server/internal/auth"
	"github.com/repotalk/repotalk-server/internal/config"
	"github.com/repotalk/repotalk-server/internal/core"
	"github.com/repotalk/repotalk-server/internal/store"
)

type stubAIClient struct {
	chatResult *core.ChatResult
	chatErr    error
	ingestBody []byte
	ingestErr  error
}

func (s *stubAIClient) Chat(ctx context.Context, repoID, query string) (*core.ChatResult, error) {
	if s.chatErr != nil {
		return nil, s.chatErr
	}
	return s.chatResult, nil
}

func (s *stubAIClient) Ingest(repoURL, branch string) ([]byte, error) {
	if s.ingestErr != nil {
		return nil, s.ingestErr
	}
	return s.ingestBody, nil
}

func TestMain(m *testing.M) {
	config.AppConfig.JWTSecret = "test-secret"
	m.Run()
}

var testDBSeq atomic.Int64

func newTestServer(t *testing.T, ai core.AIClient) *httptest.Server {
	t.Helper()
	// Named shared-cache memory DB so every pooled connection sees the same
	// schema; a bare :memory: DSN is per-connection.
	dsn := fmt.Sprintf("file:apitest%d?mode=memory&cache=shared", testDBSeq.Add(1))
	dbStore, err := store.NewSQLiteStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { dbStore.Close() })

	chatService := core.NewChatService(dbStore, ai)
	handler := NewAPIHandler(chatService)
	srv := httptest.NewServer(NewRouter(handler, "http://localhost:5173"))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, token string, payload any) *http.Response {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.GenerateJWT(userID)
	require.NoError(t, err)
	return token
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubAIClient{})

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	srv := newTestServer(t, &stubAIClient{})

	for _, route := range []struct{ method, path string }{
		{http.MethodPost, "/api/chat/ingest"},
		{http.MethodPost, "/api/chat/save"},
		{http.MethodGet, "/api/chat/history?repoId=acme/widgets/main"},
		{http.MethodGet, "/api/chat/user-chats"},
	} {
		resp := doJSON(t, route.method, srv.URL+route.path, "", nil)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "%s %s", route.method, route.path)
	}
}

func TestSaveMessageRoundTrip(t *testing.T) {
	ai := &stubAIClient{chatResult: &core.ChatResult{Answer: "It starts the server.", Sources: []string{"main.go"}}}
	srv := newTestServer(t, ai)
	token := tokenFor(t, "user-1")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/chat/save", token, map[string]string{
		"repoId":    "acme/widgets/main",
		"userQuery": "What does main.go do?",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var turn store.Turn
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&turn))
	assert.Equal(t, "It starts the server.", turn.BotAnswer)
	assert.Equal(t, []string{"main.go"}, turn.ReferencedFiles)
	assert.NotEmpty(t, turn.ID)

	// History must include the persisted turn.
	histResp := doJSON(t, http.MethodGet, srv.URL+"/api/chat/history?repoId=acme/widgets/main", token, nil)
	defer histResp.Body.Close()
	require.Equal(t, http.StatusOK, histResp.StatusCode)

	var turns []store.Turn
	require.NoError(t, json.NewDecoder(histResp.Body).Decode(&turns))
	require.Len(t, turns, 1)
	assert.Equal(t, turn.ID, turns[0].ID)
}

func TestSaveMessageEmptyQuery(t *testing.T) {
	srv := newTestServer(t, &stubAIClient{})
	token := tokenFor(t, "user-1")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/chat/save", token, map[string]string{
		"repoId":    "acme/widgets/main",
		"userQuery": "",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSaveMessageAIDownStillPersists(t *testing.T) {
	ai := &stubAIClient{chatErr: assert.AnError}
	srv := newTestServer(t, ai)
	token := tokenFor(t, "user-1")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/chat/save", token, map[string]string{
		"repoId":    "acme/widgets/main",
		"userQuery": "still recorded?",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var turn store.Turn
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&turn))
	assert.NotEmpty(t, turn.BotAnswer)
	assert.Empty(t, turn.ReferencedFiles)
	assert.Equal(t, "still recorded?", turn.UserQuery)
}

func TestHistoryRequiresRepoID(t *testing.T) {
	srv := newTestServer(t, &stubAIClient{})
	token := tokenFor(t, "user-1")

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/chat/history", token, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHistoryIsScopedToUser(t *testing.T) {
	ai := &stubAIClient{chatResult: &core.ChatResult{Answer: "a", Sources: []string{}}}
	srv := newTestServer(t, ai)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/chat/save", tokenFor(t, "user-1"), map[string]string{
		"repoId":    "acme/widgets/main",
		"userQuery": "private question",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	otherResp := doJSON(t, http.MethodGet, srv.URL+"/api/chat/history?repoId=acme/widgets/main", tokenFor(t, "user-2"), nil)
	defer otherResp.Body.Close()
	require.Equal(t, http.StatusOK, otherResp.StatusCode)

	var turns []store.Turn
	require.NoError(t, json.NewDecoder(otherResp.Body).Decode(&turns))
	assert.Empty(t, turns)
}

func TestListUserChatsOrdering(t *testing.T) {
	ai := &stubAIClient{chatResult: &core.ChatResult{Answer: "a", Sources: []string{}}}
	srv := newTestServer(t, ai)
	token := tokenFor(t, "user-1")

	for _, repoID := range []string{"acme/widgets/main", "acme/gadgets/dev"} {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/chat/save", token, map[string]string{
			"repoId":    repoID,
			"userQuery": "hello",
		})
		resp.Body.Close()
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		time.Sleep(5 * time.Millisecond)
	}

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/chat/user-chats", token, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summaries []store.ConversationSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summaries))
	require.Len(t, summaries, 2)
	assert.Equal(t, "acme/gadgets/dev", summaries[0].RepoName)
	assert.Equal(t, "acme/widgets/main", summaries[1].RepoName)
}

func TestIngestRelaysUpstreamBody(t *testing.T) {
	ai := &stubAIClient{ingestBody: []byte(`{"message":"Ingestion successful","repo_id":"acme/widgets/main"}`)}
	srv := newTestServer(t, ai)
	token := tokenFor(t, "user-1")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/chat/ingest", token, map[string]string{
		"repoUrl": "https://github.com/acme/widgets",
		"branch":  "main",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "acme/widgets/main", resp.Header.Get("X-Repo-Id"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Ingestion successful", body["message"])
}

func TestIngestRelaysUpstreamErrorVerbatim(t *testing.T) {
	ai := &stubAIClient{ingestErr: &core.UpstreamError{
		Status: http.StatusBadRequest,
		Body:   []byte(`{"detail":"Failed to process repo"}`),
	}}
	srv := newTestServer(t, ai)
	token := tokenFor(t, "user-1")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/chat/ingest", token, map[string]string{
		"repoUrl": "https://github.com/acme/widgets",
		"branch":  "main",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Failed to process repo", body["detail"])
}

func TestIngestUnreachableUpstream(t *testing.T) {
	ai := &stubAIClient{ingestErr: assert.AnError}
	srv := newTestServer(t, ai)
	token := tokenFor(t, "user-1")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/chat/ingest", token, map[string]string{
		"repoUrl": "https://github.com/acme/widgets",
		"branch":  "main",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Failed to ingest repository", body["error"])
}

func TestIngestInvalidRepoURL(t *testing.T) {
	srv := newTestServer(t, &stubAIClient{})
	token := tokenFor(t, "user-1")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/chat/ingest", token, map[string]string{
		"repoUrl": "not-a-url",
		"branch":  "main",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
