package relay

import (
	"fmt"
	"sort"
	"unicode"
	"unicode/utf8"

	"github.com/danmuck/relaychat/internal/protocol/frame"
	"github.com/samber/lo"
)

// MaxUsernameBytes bounds the UTF-8 encoded username length.
const MaxUsernameBytes = 16

// ValidateUsername applies the username policy. taken reports whether a name is
// already registered and may be nil.
func ValidateUsername(candidate []byte, taken func([]byte) bool) error {
	if len(candidate) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidUsername, ErrUsernameEmpty)
	}
	if !utf8.Valid(candidate) {
		return fmt.Errorf("%w: %w", ErrInvalidUsername, ErrUsernameEncoding)
	}
	if string(candidate) == frame.ReservedIdentity {
		return fmt.Errorf("%w: %w", ErrInvalidUsername, ErrUsernameReserved)
	}
	// Digits and symbols carry no case, so "no uppercase" is checked rather than "is lowercase".
	if lo.SomeBy([]rune(string(candidate)), unicode.IsUpper) {
		return fmt.Errorf("%w: %w", ErrInvalidUsername, ErrUsernameUppercase)
	}
	if len(candidate) > MaxUsernameBytes {
		return fmt.Errorf("%w: %w", ErrInvalidUsername, ErrUsernameTooLong)
	}
	if taken != nil && taken(candidate) {
		return fmt.Errorf("%w: %w", ErrInvalidUsername, ErrUsernameTaken)
	}
	return nil
}

// MemberCountLabel renders "1 member" or "N members".
func MemberCountLabel(n int) string {
	if n == 1 {
		return "1 member"
	}
	return fmt.Sprintf("%d members", n)
}

// Registry maps registered connections to their registration envelope.
// It is not safe for concurrent use; the service loop is its only owner.
type Registry struct {
	entries map[*Conn]frame.Envelope
	names   map[string]*Conn
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[*Conn]frame.Envelope),
		names:   make(map[string]*Conn),
	}
}

func (r *Registry) Len() int {
	return len(r.entries)
}

// Taken reports whether username is held by a registered connection.
func (r *Registry) Taken(username []byte) bool {
	_, ok := r.names[string(username)]
	return ok
}

// Validate checks candidate against the policy and the current registrations.
func (r *Registry) Validate(candidate []byte) error {
	return ValidateUsername(candidate, r.Taken)
}

// Register records conn under env. The username must be free.
func (r *Registry) Register(conn *Conn, env frame.Envelope) error {
	if _, ok := r.entries[conn]; ok {
		return ErrAlreadyRegistered
	}
	name := string(env.Payload)
	if _, ok := r.names[name]; ok {
		return fmt.Errorf("%w: %w", ErrInvalidUsername, ErrUsernameTaken)
	}
	r.entries[conn] = env
	r.names[name] = conn
	return nil
}

// Unregister removes conn and returns its registration envelope.
func (r *Registry) Unregister(conn *Conn) (frame.Envelope, bool) {
	env, ok := r.entries[conn]
	if !ok {
		return frame.Envelope{}, false
	}
	delete(r.entries, conn)
	delete(r.names, string(env.Payload))
	return env, true
}

func (r *Registry) Lookup(conn *Conn) (frame.Envelope, bool) {
	env, ok := r.entries[conn]
	return env, ok
}

// Members returns every registered connection except exclude.
func (r *Registry) Members(exclude *Conn) []*Conn {
	return lo.Filter(lo.Keys(r.entries), func(c *Conn, _ int) bool {
		return c != exclude
	})
}

// Usernames returns registered names in sorted order.
func (r *Registry) Usernames() []string {
	names := lo.Keys(r.names)
	sort.Strings(names)
	return names
}
