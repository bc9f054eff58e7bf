package store

import (
	"encoding/binary"
	"fmt"
	"sync"

	"qdag/db"
	"qdag/errors"
	"qdag/jsonx"
	"qdag/logx"
)

// Entry is one finalized unit in the global append-only sequence. Offsets
// are dense: entry i is the i-th unit ever finalized.
type Entry struct {
	Offset  uint64 `json:"offset"`
	RoundID uint64 `json:"round_id"`
	UnitID  string `json:"unit_id"`
}

// FinalizedLog is the durable record of every committed candidate order. It
// backs crash recovery and subscription resume; a round's units only become
// externally visible after their entries are written here.
type FinalizedLog struct {
	mu         sync.RWMutex
	provider   db.Provider
	nextOffset uint64
	lastRound  uint64
}

// OpenFinalizedLog loads the log metadata and verifies the sequence is
// intact. A gap or a metadata mismatch means the persisted state is corrupt;
// the caller is expected to halt.
func OpenFinalizedLog(provider db.Provider) (*FinalizedLog, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}
	l := &FinalizedLog{provider: provider}

	if err := l.loadMeta(); err != nil {
		return nil, err
	}
	if err := l.verifyIntegrity(); err != nil {
		return nil, err
	}
	logx.Info("FINLOG", fmt.Sprintf("Opened finalized log: next_offset=%d last_round=%d", l.nextOffset, l.lastRound))
	return l, nil
}

func metaKey(name string) []byte {
	return []byte(PrefixMeta + name)
}

func entryKey(offset uint64) []byte {
	key := make([]byte, len(PrefixFinalized)+8)
	copy(key, PrefixFinalized)
	binary.BigEndian.PutUint64(key[len(PrefixFinalized):], offset)
	return key
}

func (l *FinalizedLog) loadMeta() error {
	value, err := l.provider.Get(metaKey(MetaKeyNextOffset))
	if err != nil {
		return fmt.Errorf("failed to read log metadata: %w", err)
	}
	if value != nil {
		if len(value) != 8 {
			return errors.NewError(errors.ErrCodeCorruptState, fmt.Sprintf("invalid next_offset length %d", len(value)))
		}
		l.nextOffset = binary.BigEndian.Uint64(value)
	}

	value, err = l.provider.Get(metaKey(MetaKeyLastRound))
	if err != nil {
		return fmt.Errorf("failed to read log metadata: %w", err)
	}
	if value != nil {
		if len(value) != 8 {
			return errors.NewError(errors.ErrCodeCorruptState, fmt.Sprintf("invalid last_round length %d", len(value)))
		}
		l.lastRound = binary.BigEndian.Uint64(value)
	}
	return nil
}

// verifyIntegrity checks that entries 0..nextOffset-1 exist with matching
// offsets and that nothing lies beyond the recorded end.
func (l *FinalizedLog) verifyIntegrity() error {
	var expected uint64
	var iterErr error
	err := l.provider.IteratePrefix([]byte(PrefixFinalized), func(key, value []byte) bool {
		var e Entry
		if err := jsonx.Unmarshal(value, &e); err != nil {
			iterErr = errors.NewError(errors.ErrCodeCorruptState, fmt.Sprintf("undecodable log entry at key %x", key))
			return false
		}
		if e.Offset != expected {
			iterErr = errors.NewError(errors.ErrCodeCorruptState, fmt.Sprintf("log gap: expected offset %d, found %d", expected, e.Offset))
			return false
		}
		expected++
		return true
	})
	if err != nil {
		return err
	}
	if iterErr != nil {
		return iterErr
	}
	if expected != l.nextOffset {
		return errors.NewError(errors.ErrCodeCorruptState, fmt.Sprintf("log holds %d entries but metadata records %d", expected, l.nextOffset))
	}
	return nil
}

// AppendCommit durably records one committed candidate order. Entries and
// metadata are written in a single atomic batch; committed rounds are never
// revisited, so roundID must be strictly increasing (the genesis round 0 is
// reserved).
func (l *FinalizedLog) AppendCommit(roundID uint64, unitIDs []string) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if roundID <= l.lastRound && l.nextOffset > 0 {
		return nil, errors.NewError(errors.ErrCodeStaleRound, fmt.Sprintf("round %d already committed (last=%d)", roundID, l.lastRound))
	}

	batch := l.provider.Batch()
	entries := make([]Entry, 0, len(unitIDs))
	offset := l.nextOffset
	for _, id := range unitIDs {
		e := Entry{Offset: offset, RoundID: roundID, UnitID: id}
		value, err := jsonx.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal log entry: %w", err)
		}
		batch.Put(entryKey(offset), value)
		entries = append(entries, e)
		offset++
	}

	var u8 [8]byte
	binary.BigEndian.PutUint64(u8[:], offset)
	batch.Put(metaKey(MetaKeyNextOffset), append([]byte(nil), u8[:]...))
	binary.BigEndian.PutUint64(u8[:], roundID)
	batch.Put(metaKey(MetaKeyLastRound), append([]byte(nil), u8[:]...))

	if err := batch.Write(); err != nil {
		return nil, fmt.Errorf("failed to append commit: %w", err)
	}
	l.nextOffset = offset
	l.lastRound = roundID
	return entries, nil
}

// Read returns up to max entries starting at offset from.
func (l *FinalizedLog) Read(from uint64, max int) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if max <= 0 || from >= l.nextOffset {
		return nil, nil
	}
	entries := make([]Entry, 0, max)
	for offset := from; offset < l.nextOffset && len(entries) < max; offset++ {
		value, err := l.provider.Get(entryKey(offset))
		if err != nil {
			return nil, err
		}
		if value == nil {
			return nil, errors.NewError(errors.ErrCodeCorruptState, fmt.Sprintf("missing log entry at offset %d", offset))
		}
		var e Entry
		if err := jsonx.Unmarshal(value, &e); err != nil {
			return nil, errors.NewError(errors.ErrCodeCorruptState, fmt.Sprintf("undecodable log entry at offset %d", offset))
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// NextOffset is the offset the next finalized unit will receive.
func (l *FinalizedLog) NextOffset() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nextOffset
}

// LastRound is the id of the last committed round, zero if none.
func (l *FinalizedLog) LastRound() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastRound
}
