package store

import (
	"bytes"

	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/domain"
)

// ConflictResolver merges two replicas of the same order into a single
// winner. Resolution must be deterministic and total: every pair of replicas
// resolves, and both regions pick the same winner independently. localRegion
// and remoteRegion identify the region that produced each replica; the
// record's OriginRegion is useless for tie-breaking because it is fixed at
// creation and identical on both replicas.
type ConflictResolver interface {
	Resolve(local, remote *domain.Order, localRegion, remoteRegion string) *Resolution
}

// Resolution is the outcome of resolving two conflicting replicas.
type Resolution struct {
	// Winner is a copy of the winning replica carrying the max of both input
	// versions, so replaying the loser at its old version is a no-op.
	Winner *domain.Order
	// RemoteWon is true when the remote replica was selected.
	RemoteWon bool
	// Orphaned holds the losing replica's completed steps whose side-effect
	// data the winner does not carry. These external effects are duplicates
	// and must be released idempotently.
	Orphaned []domain.StepRecord
}

// DefaultResolver implements last-writer-wins by saga progress: the replica
// whose saga advanced farther wins; equal progress is broken by the
// lexicographically smaller producing region so both sides agree.
type DefaultResolver struct{}

// NewDefaultResolver returns the standard resolver.
func NewDefaultResolver() *DefaultResolver {
	return &DefaultResolver{}
}

// Resolve picks the winner between local and remote per the progress rule.
func (DefaultResolver) Resolve(local, remote *domain.Order, localRegion, remoteRegion string) *Resolution {
	winner, loser := local, remote
	remoteWon := false

	switch {
	case remote.ProgressRank() > local.ProgressRank():
		winner, loser = remote, local
		remoteWon = true
	case remote.ProgressRank() < local.ProgressRank():
		// local stays the winner
	case remoteRegion < localRegion:
		winner, loser = remote, local
		remoteWon = true
	}

	merged := winner.Clone()
	if loser.Version > merged.Version {
		merged.Version = loser.Version
	}

	return &Resolution{
		Winner:    merged,
		RemoteWon: remoteWon,
		Orphaned:  orphanedSteps(merged, loser),
	}
}

// orphanedSteps returns the loser's completed steps that the winner either
// never completed or completed with different side-effect data. Either way
// the loser's external effect is a duplicate the winner will not account for.
func orphanedSteps(winner, loser *domain.Order) []domain.StepRecord {
	var orphaned []domain.StepRecord
	for _, rec := range loser.Saga.CompletedSteps {
		w := winner.Saga.Record(rec.Step)
		if w == nil || !bytes.Equal(w.Data, rec.Data) {
			orphaned = append(orphaned, rec)
		}
	}
	return orphaned
}
