// Package booking is a local twin of the restful-booker hotel booking API.
package booking

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/wondertwin-ai/contractkit/internal/twin/store"
)

// TokenLength is the length of every issued auth token.
const TokenLength = 15

// Default admin credentials accepted by POST /auth and Basic auth.
const (
	DefaultUsername = "admin"
	DefaultPassword = "password123"
)

// Dates is a booking's stay.
type Dates struct {
	Checkin  string `json:"checkin" validate:"required,datetime=2006-01-02"`
	Checkout string `json:"checkout" validate:"required,datetime=2006-01-02"`
}

// Booking is a stored booking.
type Booking struct {
	Firstname       string `json:"firstname" validate:"required"`
	Lastname        string `json:"lastname" validate:"required"`
	TotalPrice      int    `json:"totalprice" validate:"gte=0"`
	DepositPaid     bool   `json:"depositpaid"`
	BookingDates    Dates  `json:"bookingdates"`
	AdditionalNeeds string `json:"additionalneeds,omitempty"`
}

// State holds bookings and issued tokens.
type State struct {
	Bookings *store.Store[Booking]

	mu       sync.RWMutex
	tokens   map[string]bool
	username string
	password string
	seed     map[int]Booking
}

// NewState creates an empty state accepting the default credentials.
func NewState() *State {
	return &State{
		Bookings: store.New[Booking](),
		tokens:   make(map[string]bool),
		username: DefaultUsername,
		password: DefaultPassword,
	}
}

// SetCredentials changes the accepted username and password.
func (s *State) SetCredentials(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username, s.password = username, password
}

// Seed loads bookings kept across resets.
func (s *State) Seed(bookings []Booking) {
	seed := make(map[int]Booking, len(bookings))
	for i, b := range bookings {
		seed[i+1] = b
	}
	s.mu.Lock()
	s.seed = seed
	s.mu.Unlock()
	s.Bookings.LoadSnapshot(seed)
}

// Login issues a token when the credentials match.
func (s *State) Login(username, password string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if username != s.username || password != s.password {
		return "", false
	}
	token := newToken()
	s.tokens[token] = true
	return token, true
}

// ValidToken reports whether token was issued and not revoked.
func (s *State) ValidToken(token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens[token]
}

// ValidBasic reports whether the basic-auth credentials match.
func (s *State) ValidBasic(username, password string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return username == s.username && password == s.password
}

// RevokeTokens invalidates every issued token, as a server-side expiry would.
func (s *State) RevokeTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = make(map[string]bool)
}

// Snapshot implements admin.StateStore.
func (s *State) Snapshot() any {
	s.mu.RLock()
	tokens := len(s.tokens)
	s.mu.RUnlock()
	return map[string]any{
		"bookings": s.Bookings.Snapshot(),
		"tokens":   tokens,
	}
}

// LoadState implements admin.StateStore. It replaces the bookings.
func (s *State) LoadState(data []byte) error {
	var in struct {
		Bookings json.RawMessage `json:"bookings"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if len(in.Bookings) == 0 {
		return errors.New("state has no bookings field")
	}
	return s.Bookings.UnmarshalJSON(in.Bookings)
}

// Reset implements admin.StateStore. Seeded bookings are restored.
func (s *State) Reset() {
	s.mu.Lock()
	s.tokens = make(map[string]bool)
	seed := s.seed
	s.mu.Unlock()
	s.Bookings.Reset()
	if len(seed) > 0 {
		s.Bookings.LoadSnapshot(seed)
	}
}

func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:TokenLength]
}
