package store

import "time"

// Turn is one question/answer exchange. Turns are immutable: the store
// exposes no update or delete operations for them.
type Turn struct {
	ID              string    `json:"id"` // UUID
	UserID          string    `json:"userId"`
	RepoID          string    `json:"repoId"`
	UserQuery       string    `json:"userQuery"`
	BotAnswer       string    `json:"botAnswer"`
	ReferencedFiles []string  `json:"referencedFiles"`
	CreatedAt       time.Time `json:"createdAt"`
}

// ConversationSummary is derived per user from the turns table, never
// persisted. Field names match the wire contract the UI consumes.
type ConversationSummary struct {
	RepoName    string    `json:"repoName"`
	LastUpdated time.Time `json:"lastUpdated"`
}
