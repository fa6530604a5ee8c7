package session

import (
	"sync"

	"github.com/google/uuid"
)

// NewTransactionID returns a random (version 4) UUID string.
func NewTransactionID() string {
	return uuid.NewString()
}

// IDIssuer hands out transaction ids and refuses to repeat one it already
// issued.
type IDIssuer struct {
	mu   sync.Mutex
	seen map[string]struct{}
	gen  func() string
}

// NewIDIssuer creates an issuer. A nil gen uses NewTransactionID.
func NewIDIssuer(gen func() string) *IDIssuer {
	if gen == nil {
		gen = NewTransactionID
	}
	return &IDIssuer{seen: make(map[string]struct{}), gen: gen}
}

// Next returns an id not previously returned by this issuer.
func (i *IDIssuer) Next() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	for {
		id := i.gen()
		if _, dup := i.seen[id]; dup {
			continue
		}
		i.seen[id] = struct{}{}
		return id
	}
}
