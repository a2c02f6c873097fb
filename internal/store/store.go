package store

import (
	"context"
	"errors"

	"github.com/joescharf/issues/internal/models"
)

// ErrNotFound is returned when an issue id does not exist in the given project.
var ErrNotFound = errors.New("issue not found")

// IssueListFilter maps wire field names to the values an issue must carry.
// A key repeated in the query must match every one of its values.
type IssueListFilter map[string][]string

// Matches reports whether the issue satisfies every filter entry.
// Keys that are not issue fields match nothing.
func (f IssueListFilter) Matches(issue *models.Issue) bool {
	for key, values := range f {
		got, ok := issue.Field(key)
		if !ok {
			return false
		}
		for _, want := range values {
			if got != want {
				return false
			}
		}
	}
	return true
}

// Store defines the issue persistence interface.
type Store interface {
	// ListIssues returns the project's issues matching filter in insertion order.
	// An unknown project yields an empty slice.
	ListIssues(ctx context.Context, project string, filter IssueListFilter) ([]*models.Issue, error)
	// CreateIssue assigns the id and timestamps and appends the issue to the project.
	CreateIssue(ctx context.Context, project string, issue *models.Issue) error
	// UpdateIssue merges patch into the issue and refreshes its updated_on.
	UpdateIssue(ctx context.Context, project, id string, patch models.IssuePatch) (*models.Issue, error)
	// DeleteIssue removes the issue from the project.
	DeleteIssue(ctx context.Context, project, id string) error
}
