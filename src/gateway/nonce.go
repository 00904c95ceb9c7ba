package gateway

import (
	"strconv"
	"sync"
	"time"
)

// NonceSource issues strictly increasing nonces for one credential set.
// Kraken rejects any private call whose nonce does not exceed the previous
// one, so when the wall clock has not advanced past the last issued value
// the source steps forward deterministically instead of reusing it.
type NonceSource struct {
	mu   sync.Mutex
	last int64
}

func NewNonceSource() *NonceSource { return &NonceSource{} }

// Next returns the next nonce as a decimal string.
func (n *NonceSource) Next() string {
	n.mu.Lock()
	defer n.mu.Unlock()

	nonce := time.Now().UnixMicro()
	if nonce <= n.last {
		nonce = n.last + 1000
	}
	n.last = nonce
	return strconv.FormatInt(nonce, 10)
}
