package store

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/lo"

	"github.com/joescharf/issues/internal/models"
)

// MemoryStore implements Store with a process-local map of project name to issues.
// Nothing survives a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[string][]*models.Issue
	entropy  io.Reader
	now      func() time.Time
}

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithClock overrides the time source used for created_on/updated_on.
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		projects: make(map[string][]*models.Issue),
		entropy:  ulid.Monotonic(rand.Reader, 0),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newULID must be called with mu held; the monotonic reader is not safe for concurrent use.
func (s *MemoryStore) newULID(t time.Time) (string, error) {
	id, err := ulid.New(ulid.Timestamp(t), s.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (s *MemoryStore) ListIssues(_ context.Context, project string, filter IssueListFilter) ([]*models.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := lo.Filter(s.projects[project], func(issue *models.Issue, _ int) bool {
		return filter.Matches(issue)
	})
	return lo.Map(matched, func(issue *models.Issue, _ int) *models.Issue {
		cp := *issue
		return &cp
	}), nil
}

func (s *MemoryStore) CreateIssue(_ context.Context, project string, issue *models.Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	id, err := s.newULID(now)
	if err != nil {
		return fmt.Errorf("generate id: %w", err)
	}

	issue.ID = id
	issue.CreatedOn = now
	issue.UpdatedOn = now
	issue.Open = true

	stored := *issue
	s.projects[project] = append(s.projects[project], &stored)
	return nil
}

func (s *MemoryStore) UpdateIssue(_ context.Context, project, id string, patch models.IssuePatch) (*models.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	issue, ok := lo.Find(s.projects[project], func(i *models.Issue) bool { return i.ID == id })
	if !ok {
		return nil, fmt.Errorf("update %s/%s: %w", project, id, ErrNotFound)
	}

	patch.Apply(issue)
	if now := s.now(); now.After(issue.UpdatedOn) {
		issue.UpdatedOn = now
	}

	cp := *issue
	return &cp, nil
}

func (s *MemoryStore) DeleteIssue(_ context.Context, project, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	issues := s.projects[project]
	_, idx, ok := lo.FindIndexOf(issues, func(i *models.Issue) bool { return i.ID == id })
	if !ok {
		return fmt.Errorf("delete %s/%s: %w", project, id, ErrNotFound)
	}

	issues = append(issues[:idx], issues[idx+1:]...)
	if len(issues) == 0 {
		delete(s.projects, project)
		return nil
	}
	s.projects[project] = issues
	return nil
}
