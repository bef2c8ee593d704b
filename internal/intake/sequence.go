// Package intake accepts order submissions: id assignment, validation,
// idempotent creation and cancellation requests.
package intake

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// orderIDNamespace salts deterministic order ids derived from client
// idempotency keys. Never change this value: a new namespace would make a
// resubmitted key mint a second order.
var orderIDNamespace = uuid.MustParse("7a1f5f5e-9c1d-4c5a-b86e-2f3a9d1c0aa4")

// RegionPrefix compresses an AWS-style region name into a short id prefix:
// "us-east-1" becomes "use1", "eu-west-1" becomes "euw1". The prefix keeps
// ids minted in different regions from ever colliding.
func RegionPrefix(region string) string {
	parts := strings.Split(region, "-")
	if len(parts) == 1 {
		return region
	}
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteByte(p[0])
	}
	return b.String()
}

// DeterministicOrderID derives the order id for a submission carrying an
// idempotency key. Every part of the id, prefix included, is a function of
// the key alone: a retry landing in a peer region computes the identical id,
// so create-if-absent plus record replication collapse the pair onto one
// order. The prefix is the leading bytes of the key's UUID, keeping the
// "<prefix>-" id shape without smuggling in any per-region input.
func DeterministicOrderID(idempotencyKey string) string {
	id := uuid.NewSHA1(orderIDNamespace, []byte(idempotencyKey))
	return hex.EncodeToString(id[:2]) + "-" + id.String()
}

// Sequencer issues region-prefixed ids for submissions without an
// idempotency key. The numeric part is monotonic within a process; the
// caller seeds start so restarts do not reuse ids.
type Sequencer struct {
	prefix  string
	counter atomic.Int64
}

func NewSequencer(region string, start int64) *Sequencer {
	s := &Sequencer{prefix: RegionPrefix(region)}
	s.counter.Store(start)
	return s
}

// Next returns the next order id.
func (s *Sequencer) Next() string {
	return fmt.Sprintf("%s-%06d", s.prefix, s.counter.Add(1))
}
