package reward

import (
	"context"
	"sync"
)

// Grant is one call recorded by MemoryGranter.
type Grant struct {
	UserID int64
	Points int64
	Code   string
	Reason string
}

// MemoryGranter keeps grants in memory. It backs dry runs and tests; Fail
// makes every following grant return the given error until cleared with nil.
type MemoryGranter struct {
	mu     sync.Mutex
	grants []Grant
	fail   error
}

func NewMemoryGranter() *MemoryGranter { return &MemoryGranter{} }

func (m *MemoryGranter) GrantPoints(_ context.Context, userID, points int64, reason string) error {
	return m.add(Grant{UserID: userID, Points: points, Reason: reason})
}

func (m *MemoryGranter) GrantCode(_ context.Context, userID int64, code, reason string) error {
	return m.add(Grant{UserID: userID, Code: code, Reason: reason})
}

func (m *MemoryGranter) add(g Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.grants = append(m.grants, g)
	return nil
}

// Fail sets the error returned by subsequent grants.
func (m *MemoryGranter) Fail(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}

// Grants returns a copy of the recorded grants.
func (m *MemoryGranter) Grants() []Grant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Grant(nil), m.grants...)
}

// Total sums the points granted to userID.
func (m *MemoryGranter) Total(userID int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, g := range m.grants {
		if g.UserID == userID {
			sum += g.Points
		}
	}
	return sum
}
