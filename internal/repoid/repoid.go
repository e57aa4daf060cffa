// Package repoid derives conversation identities from repository references.
// Only ingestion constructs a RepoID: the canonical owner/repo/branch form is
// minted from the ingested URL here and handed to the UI, after which routing
// passes ids back through the API as opaque strings. Legacy free-text names
// from before the canonical scheme take that same opaque path, so Legacy and
// Escaped exist for callers that need to mint or embed ids, not for the
// request flow.
package repoid

import (
	"errors"
	"net/url"
	"strings"
)

const DefaultBranch = "main"

// ErrInvalidRepoRef is returned when a repository URL does not contain
// enough path segments to derive an owner/repo pair.
var ErrInvalidRepoRef = errors.New("invalid repository reference")

// RepoID identifies one conversation's repository. It is either canonical
// (owner/repo/branch, derived from an ingested URL) or legacy (a free-text
// short name from before the canonical scheme existed). Everything outside
// this package treats the normalized string form as opaque.
type RepoID struct {
	owner  string
	repo   string
	branch string
	legacy string
}

// Parse derives a canonical RepoID from a repository URL and branch.
// The owner and repo are the last two path segments of the URL; a trailing
// slash and a ".git" suffix are tolerated. An empty branch defaults to
// DefaultBranch. No network access is performed and no check is made that
// the URL points at a real GitHub location.
func Parse(rawURL, branch string) (RepoID, error) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(rawURL), "/")
	if trimmed == "" {
		return RepoID{}, ErrInvalidRepoRef
	}

	// Drop any query/fragment noise before splitting on path segments.
	if u, err := url.Parse(trimmed); err == nil && u.Host != "" {
		trimmed = u.Host + u.Path
		trimmed = strings.TrimSuffix(trimmed, "/")
	}

	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 {
		return RepoID{}, ErrInvalidRepoRef
	}

	owner := parts[len(parts)-2]
	repo := strings.TrimSuffix(parts[len(parts)-1], ".git")
	if owner == "" || repo == "" {
		return RepoID{}, ErrInvalidRepoRef
	}

	if branch == "" {
		branch = DefaultBranch
	}

	return RepoID{owner: owner, repo: repo, branch: branch}, nil
}

// Legacy wraps a pre-canonical free-text conversation name.
func Legacy(name string) (RepoID, error) {
	if strings.TrimSpace(name) == "" {
		return RepoID{}, ErrInvalidRepoRef
	}
	return RepoID{legacy: name}, nil
}

func (id RepoID) IsLegacy() bool {
	return id.legacy != ""
}

// String returns the normalized storage key: "owner/repo/branch" for
// canonical ids, the raw name for legacy ids.
func (id RepoID) String() string {
	if id.IsLegacy() {
		return id.legacy
	}
	return id.owner + "/" + id.repo + "/" + id.branch
}

// Escaped returns the id percent-encoded for embedding in a URL path.
// Branch names may themselves contain slashes, so the whole key is escaped
// as a single segment.
func (id RepoID) Escaped() string {
	return url.PathEscape(id.String())
}
