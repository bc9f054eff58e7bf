package store

import (
	"testing"

	"qdag/db"
	"qdag/errors"
)

func openLog(t *testing.T, provider db.Provider) *FinalizedLog {
	t.Helper()
	l, err := OpenFinalizedLog(provider)
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestAppendAndRead(t *testing.T) {
	provider := db.NewMemoryProvider()
	l := openLog(t, provider)

	entries, err := l.AppendCommit(1, []string{"u1", "u2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Offset != 0 || entries[1].Offset != 1 {
		t.Fatalf("entries = %+v", entries)
	}

	// offsets stay dense across commits
	entries, err = l.AppendCommit(2, []string{"u3"})
	if err != nil {
		t.Fatal(err)
	}
	if entries[0].Offset != 2 {
		t.Fatalf("offset = %d, want 2", entries[0].Offset)
	}
	if l.NextOffset() != 3 || l.LastRound() != 2 {
		t.Fatalf("meta = (%d, %d)", l.NextOffset(), l.LastRound())
	}

	read, err := l.Read(0, 10)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"u1", "u2", "u3"}
	if len(read) != 3 {
		t.Fatalf("read %d entries", len(read))
	}
	for i, e := range read {
		if e.UnitID != want[i] || e.Offset != uint64(i) {
			t.Fatalf("entry %d = %+v", i, e)
		}
	}
}

func TestReadPaging(t *testing.T) {
	l := openLog(t, db.NewMemoryProvider())
	if _, err := l.AppendCommit(1, []string{"u1", "u2", "u3", "u4"}); err != nil {
		t.Fatal(err)
	}

	page, err := l.Read(1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].UnitID != "u2" || page[1].UnitID != "u3" {
		t.Fatalf("page = %+v", page)
	}

	if page, _ := l.Read(10, 5); page != nil {
		t.Fatalf("read past end returned %+v", page)
	}
	if page, _ := l.Read(0, 0); page != nil {
		t.Fatalf("zero max returned %+v", page)
	}
}

func TestStaleRoundRejected(t *testing.T) {
	l := openLog(t, db.NewMemoryProvider())
	if _, err := l.AppendCommit(5, []string{"u1"}); err != nil {
		t.Fatal(err)
	}
	_, err := l.AppendCommit(5, []string{"u2"})
	if !errors.HasCode(err, errors.ErrCodeStaleRound) {
		t.Fatalf("replayed round error = %v", err)
	}
	_, err = l.AppendCommit(3, []string{"u2"})
	if !errors.HasCode(err, errors.ErrCodeStaleRound) {
		t.Fatalf("older round error = %v", err)
	}
	if l.NextOffset() != 1 {
		t.Fatalf("rejected append advanced the log to %d", l.NextOffset())
	}
}

func TestReopenRestoresMeta(t *testing.T) {
	provider := db.NewMemoryProvider()
	l := openLog(t, provider)
	if _, err := l.AppendCommit(1, []string{"u1", "u2"}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.AppendCommit(2, []string{"u3"}); err != nil {
		t.Fatal(err)
	}

	reopened := openLog(t, provider)
	if reopened.NextOffset() != 3 || reopened.LastRound() != 2 {
		t.Fatalf("reopened meta = (%d, %d)", reopened.NextOffset(), reopened.LastRound())
	}
	read, err := reopened.Read(0, 10)
	if err != nil || len(read) != 3 {
		t.Fatalf("read after reopen: %d entries, err %v", len(read), err)
	}
}

// A hole in the sequence means the persisted ledger cannot be trusted;
// opening must fail rather than serve a silently truncated history.
func TestOpenDetectsGap(t *testing.T) {
	provider := db.NewMemoryProvider()
	l := openLog(t, provider)
	if _, err := l.AppendCommit(1, []string{"u1", "u2", "u3"}); err != nil {
		t.Fatal(err)
	}

	if err := provider.Delete(entryKey(1)); err != nil {
		t.Fatal(err)
	}
	_, err := OpenFinalizedLog(provider)
	if !errors.HasCode(err, errors.ErrCodeCorruptState) {
		t.Fatalf("gap error = %v", err)
	}
}

func TestOpenDetectsTruncation(t *testing.T) {
	provider := db.NewMemoryProvider()
	l := openLog(t, provider)
	if _, err := l.AppendCommit(1, []string{"u1", "u2", "u3"}); err != nil {
		t.Fatal(err)
	}

	// losing the tail leaves fewer entries than the metadata records
	if err := provider.Delete(entryKey(2)); err != nil {
		t.Fatal(err)
	}
	_, err := OpenFinalizedLog(provider)
	if !errors.HasCode(err, errors.ErrCodeCorruptState) {
		t.Fatalf("truncation error = %v", err)
	}
}

func TestOpenDetectsBadMeta(t *testing.T) {
	provider := db.NewMemoryProvider()
	l := openLog(t, provider)
	if _, err := l.AppendCommit(1, []string{"u1"}); err != nil {
		t.Fatal(err)
	}

	if err := provider.Put(metaKey(MetaKeyNextOffset), []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	_, err := OpenFinalizedLog(provider)
	if !errors.HasCode(err, errors.ErrCodeCorruptState) {
		t.Fatalf("bad metadata error = %v", err)
	}
}
