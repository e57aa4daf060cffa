package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog/log"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS chat_turns (
        id TEXT PRIMARY KEY, -- UUID
        user_id TEXT NOT NULL,
        repo_id TEXT NOT NULL,
        user_query TEXT NOT NULL,
        bot_answer TEXT NOT NULL,
        referenced_files TEXT NOT NULL DEFAULT '[]', -- JSON array of file paths
        created_at DATETIME NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_chat_turns_user_repo
        ON chat_turns (user_id, repo_id);
    `
	_, err := s.db.Exec(schema)
	return err
}

// AppendTurn persists one immutable turn, assigning its id and timestamp.
func (s *SQLiteStore) AppendTurn(ctx context.Context, userID, repoID, userQuery, botAnswer string, referencedFiles []string) (*Turn, error) {
	if referencedFiles == nil {
		referencedFiles = []string{}
	}
	filesJSON, err := json.Marshal(referencedFiles)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal referenced files: %w", err)
	}

	turn := &Turn{
		ID:              uuid.NewString(),
		UserID:          userID,
		RepoID:          repoID,
		UserQuery:       userQuery,
		BotAnswer:       botAnswer,
		ReferencedFiles: referencedFiles,
		CreatedAt:       time.Now().UTC(),
	}

	stmt, err := s.db.PrepareContext(ctx, "INSERT INTO chat_turns (id, user_id, repo_id, user_query, bot_answer, referenced_files, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare turn insert: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx, turn.ID, turn.UserID, turn.RepoID, turn.UserQuery, turn.BotAnswer, string(filesJSON), turn.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to execute turn insert: %w", err)
	}
	return turn, nil
}

// ListTurns returns all turns for the user/repo pair, ascending by creation
// time. Both fields scope the query; an empty result is not an error.
func (s *SQLiteStore) ListTurns(ctx context.Context, userID, repoID string) ([]Turn, error) {
	query := `
        SELECT id, user_id, repo_id, user_query, bot_answer, referenced_files, created_at
        FROM chat_turns
        WHERE user_id = ? AND repo_id = ?
        ORDER BY created_at ASC, id ASC
    `
	rows, err := s.db.QueryContext(ctx, query, userID, repoID)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	turns := []Turn{}
	for rows.Next() {
		var turn Turn
		var filesJSON string
		if err := rows.Scan(&turn.ID, &turn.UserID, &turn.RepoID, &turn.UserQuery, &turn.BotAnswer, &filesJSON, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn row: %w", err)
		}
		if err := json.Unmarshal([]byte(filesJSON), &turn.ReferencedFiles); err != nil {
			log.Warn().Err(err).Str("turn_id", turn.ID).Msg("Malformed referenced_files column, returning empty list")
			turn.ReferencedFiles = []string{}
		}
		if turn.ReferencedFiles == nil {
			turn.ReferencedFiles = []string{}
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate turn rows: %w", err)
	}
	return turns, nil
}

// SummarizeConversations groups the user's turns by repo id and reports the
// most recent activity per conversation, newest first. Ties are broken by
// repo id so output is deterministic.
func (s *SQLiteStore) SummarizeConversations(ctx context.Context, userID string) ([]ConversationSummary, error) {
	query := `
        SELECT repo_id, MAX(created_at) AS last_updated
        FROM chat_turns
        WHERE user_id = ?
        GROUP BY repo_id
        ORDER BY last_updated DESC, repo_id ASC
    `
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation summaries: %w", err)
	}
	defer rows.Close()

	summaries := []ConversationSummary{}
	for rows.Next() {
		var summary ConversationSummary
		var lastUpdated string
		if err := rows.Scan(&summary.RepoName, &lastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		// MAX() strips the column's declared DATETIME type, so the driver
		// hands back the raw string and we parse it ourselves.
		summary.LastUpdated, err = parseSQLiteTime(lastUpdated)
		if err != nil {
			return nil, fmt.Errorf("failed to parse last_updated %q: %w", lastUpdated, err)
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate summary rows: %w", err)
	}
	return summaries, nil
}

var sqliteTimeFormats = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	time.RFC3339Nano,
}

func parseSQLiteTime(value string) (time.Time, error) {
	var lastErr error
	for _, format := range sqliteTimeFormats {
		t, err := time.Parse(format, value)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
