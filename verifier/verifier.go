// Package verifier performs the layered cryptographic validation of units:
// both hybrid signature legs against the creator's registered keys, plus the
// independent prime-transform integrity digest. Verification is CPU-bound
// and runs on a bounded worker pool so it never starves network handling.
package verifier

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"qdag/errors"
	"qdag/primehash"
	"qdag/registry"
	"qdag/unit"
)

type UnitVerifier struct {
	workerCount int
}

// New creates a verifier. workerCount <= 0 sizes the pool to the available
// cores.
func New(workerCount int) *UnitVerifier {
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	return &UnitVerifier{workerCount: workerCount}
}

// Verify validates a single unit against a registry snapshot. Pure: no state
// is touched, the same inputs always produce the same result.
func (v *UnitVerifier) Verify(snap *registry.Snapshot, u *unit.Unit) error {
	pub, err := snap.PublicKeys(u.Creator)
	if err != nil {
		return err
	}
	// Both legs must verify independently; a single passing leg is treated
	// as a downgrade attempt and rejected.
	if err := pub.Verify(u.SigningBytes(), u.Signature()); err != nil {
		return err
	}
	if !primehash.Verify(u.Tx.Serialize(), u.PrimeHash) {
		return errors.NewError(errors.ErrCodePrimeHashMismatch, fmt.Sprintf("unit %s carries digest %d", u.ID, u.PrimeHash))
	}
	return nil
}

// VerifyBatch validates units concurrently on the worker pool. The result
// slice is index-aligned with the input; a nil entry means the unit passed.
func (v *UnitVerifier) VerifyBatch(ctx context.Context, snap *registry.Snapshot, units []*unit.Unit) []error {
	results := make([]error, len(units))
	if len(units) == 0 {
		return results
	}

	jobs := make(chan int)
	var wg sync.WaitGroup

	workers := v.workerCount
	if workers > len(units) {
		workers = len(units)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = v.Verify(snap, units[idx])
			}
		}()
	}

	for i := range units {
		select {
		case jobs <- i:
		case <-ctx.Done():
			for j := i; j < len(units); j++ {
				results[j] = ctx.Err()
			}
			close(jobs)
			wg.Wait()
			return results
		}
	}
	close(jobs)
	wg.Wait()
	return results
}
