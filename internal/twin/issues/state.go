// Package issues is a local twin of the GitHub repository issues API.
package issues

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wondertwin-ai/contractkit/internal/twin/store"
)

// DefaultLogin is the account that owns repositories created through the twin.
const DefaultLogin = "octocat"

// User is the account summary embedded in issues and repositories.
type User struct {
	Login string `json:"login"`
	ID    int64  `json:"id"`
	Type  string `json:"type"`
}

// Repository is a hosted repository.
type Repository struct {
	ID        int64     `json:"id"`
	NodeID    string    `json:"node_id"`
	Name      string    `json:"name"`
	FullName  string    `json:"full_name"`
	Owner     User      `json:"owner"`
	Private   bool      `json:"private"`
	CreatedAt time.Time `json:"created_at"`
}

// Issue is a repository issue.
type Issue struct {
	ID        int64      `json:"id"`
	NodeID    string     `json:"node_id"`
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	State     string     `json:"state"`
	User      User       `json:"user"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at"`
}

// Issue states.
const (
	StateOpen   = "open"
	StateClosed = "closed"
)

type repoState struct {
	Repo   Repository           `json:"repo"`
	Issues *store.Store[Issue] `json:"issues"`
}

// State holds repositories and their issues.
type State struct {
	Clock *store.Clock

	mu     sync.RWMutex
	user   User
	tokens map[string]bool // empty accepts any token
	repos  map[string]*repoState
	seed   []Repository
	nextID int64
}

// NewState creates a state with no repositories. Writes are attributed to login.
func NewState(login string) *State {
	if login == "" {
		login = DefaultLogin
	}
	return &State{
		Clock:  store.NewClock(),
		user:   User{Login: login, ID: 1, Type: "User"},
		tokens: make(map[string]bool),
		repos:  make(map[string]*repoState),
		nextID: 1000,
	}
}

// Login returns the authenticated account's login.
func (s *State) Login() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user.Login
}

// SetTokens restricts accepted tokens. No tokens accepts any non-empty one.
func (s *State) SetTokens(tokens ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = make(map[string]bool, len(tokens))
	for _, t := range tokens {
		s.tokens[t] = true
	}
}

// ValidToken reports whether token is accepted.
func (s *State) ValidToken(token string) bool {
	if token == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens) == 0 || s.tokens[token]
}

// Seed creates repositories, given as "owner/name", that survive resets.
func (s *State) Seed(fullNames ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fn := range fullNames {
		owner, name, ok := strings.Cut(fn, "/")
		if !ok || owner == "" || name == "" {
			return fmt.Errorf("invalid repository %q: want owner/name", fn)
		}
		repo := s.newRepoLocked(owner, name, false)
		s.repos[repo.FullName] = &repoState{Repo: repo, Issues: store.New[Issue]()}
		s.seed = append(s.seed, repo)
	}
	return nil
}

func (s *State) newRepoLocked(owner, name string, private bool) Repository {
	s.nextID++
	return Repository{
		ID:        s.nextID,
		NodeID:    uuid.NewString(),
		Name:      name,
		FullName:  owner + "/" + name,
		Owner:     User{Login: owner, ID: 1, Type: "User"},
		Private:   private,
		CreatedAt: s.Clock.Now().UTC().Truncate(time.Second),
	}
}

// CreateRepo creates a repository owned by the authenticated account.
func (s *State) CreateRepo(name string, private bool) (Repository, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	full := s.user.Login + "/" + name
	if _, exists := s.repos[full]; exists {
		return Repository{}, false
	}
	repo := s.newRepoLocked(s.user.Login, name, private)
	s.repos[full] = &repoState{Repo: repo, Issues: store.New[Issue]()}
	return repo, true
}

// Repo returns a repository by owner and name.
func (s *State) Repo(owner, name string) (Repository, bool) {
	rs, ok := s.lookup(owner, name)
	if !ok {
		return Repository{}, false
	}
	return rs.Repo, true
}

// DeleteRepo removes a repository and its issues.
func (s *State) DeleteRepo(owner, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	full := owner + "/" + name
	if _, ok := s.repos[full]; !ok {
		return false
	}
	delete(s.repos, full)
	return true
}

func (s *State) lookup(owner, name string) (*repoState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs, ok := s.repos[owner+"/"+name]
	return rs, ok
}

// CreateIssue opens an issue. Numbers are per repository, starting at 1.
func (s *State) CreateIssue(owner, name, title, body string) (Issue, bool) {
	rs, ok := s.lookup(owner, name)
	if !ok {
		return Issue{}, false
	}
	s.mu.Lock()
	s.nextID++
	id, author := s.nextID, s.user
	s.mu.Unlock()

	now := s.Clock.Now().UTC().Truncate(time.Second)
	_, issue := rs.Issues.Create(func(number int) Issue {
		return Issue{
			ID:        id,
			NodeID:    uuid.NewString(),
			Number:    number,
			Title:     title,
			Body:      body,
			State:     StateOpen,
			User:      author,
			CreatedAt: now,
			UpdatedAt: now,
		}
	})
	return issue, true
}

// Issue returns an issue by number.
func (s *State) Issue(owner, name string, number int) (Issue, bool) {
	rs, ok := s.lookup(owner, name)
	if !ok {
		return Issue{}, false
	}
	return rs.Issues.Get(number)
}

// Issues lists a repository's issues, newest first, filtered by state
// ("open", "closed" or "all").
func (s *State) Issues(owner, name, state string) ([]Issue, bool) {
	rs, ok := s.lookup(owner, name)
	if !ok {
		return nil, false
	}
	_, out := rs.Issues.Filter(func(_ int, is Issue) bool {
		return state == "all" || is.State == state
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Number > out[j].Number })
	return out, true
}

// IssueEdit holds the fields a PATCH may change. Nil fields are left alone.
type IssueEdit struct {
	Title *string `json:"title"`
	Body  *string `json:"body"`
	State *string `json:"state"`
}

// ErrInvalidState is returned for an issue state other than open or closed.
var ErrInvalidState = errors.New("state must be open or closed")

// EditIssue applies edit to an issue. The bool reports whether the issue exists.
func (s *State) EditIssue(owner, name string, number int, edit IssueEdit) (Issue, bool, error) {
	if edit.State != nil && *edit.State != StateOpen && *edit.State != StateClosed {
		return Issue{}, true, ErrInvalidState
	}
	rs, ok := s.lookup(owner, name)
	if !ok {
		return Issue{}, false, nil
	}
	now := s.Clock.Now().UTC().Truncate(time.Second)
	issue, ok := rs.Issues.Update(number, func(is Issue) Issue {
		if edit.Title != nil {
			is.Title = *edit.Title
		}
		if edit.Body != nil {
			is.Body = *edit.Body
		}
		if edit.State != nil && *edit.State != is.State {
			is.State = *edit.State
			if is.State == StateClosed {
				closed := now
				is.ClosedAt = &closed
			} else {
				is.ClosedAt = nil
			}
		}
		is.UpdatedAt = now
		return is
	})
	return issue, ok, nil
}

// Snapshot implements admin.StateStore.
func (s *State) Snapshot() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	repos := make(map[string]*repoState, len(s.repos))
	for k, v := range s.repos {
		repos[k] = v
	}
	return map[string]any{"user": s.user, "repos": repos}
}

// LoadState implements admin.StateStore. It replaces every repository.
func (s *State) LoadState(data []byte) error {
	var in struct {
		Repos map[string]*repoState `json:"repos"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.Repos == nil {
		return errors.New("state has no repos field")
	}
	for full, rs := range in.Repos {
		if rs == nil {
			return fmt.Errorf("repository %q has no content", full)
		}
		if rs.Issues == nil {
			rs.Issues = store.New[Issue]()
		}
		if rs.Repo.FullName == "" {
			rs.Repo.FullName = full
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repos = in.Repos
	return nil
}

// Reset implements admin.StateStore. Seeded repositories come back empty.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repos = make(map[string]*repoState, len(s.seed))
	for _, repo := range s.seed {
		s.repos[repo.FullName] = &repoState{Repo: repo, Issues: store.New[Issue]()}
	}
}
