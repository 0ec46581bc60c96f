package store

import (
	"context"
	"testing"
	"time"
)

func TestMemoryTxMovesDocument(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.BatchWrite(ctx, []WriteOp{{Collection: "live", ID: "r1", Data: Doc{"tripId": "T1"}}}); err != nil {
		t.Fatal(err)
	}

	err := s.RunTransaction(ctx, func(tx Tx) error {
		d, ok, err := tx.Get("live", "r1")
		if err != nil || !ok {
			t.Fatalf("get: ok=%v err=%v", ok, err)
		}
		if err := tx.Set("claimed", "r1", d, false); err != nil {
			return err
		}
		return tx.Delete("live", "r1")
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, ok, _ := s.Get(ctx, "live", "r1"); ok {
		t.Fatal("live doc should be gone")
	}
	d, ok, _ := s.Get(ctx, "claimed", "r1")
	if !ok || d["tripId"] != "T1" {
		t.Fatalf("claimed doc wrong: ok=%v doc=%v", ok, d)
	}
}

func TestMemoryTxConflictOnConcurrentWrite(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.BatchWrite(ctx, []WriteOp{{Collection: "live", ID: "r1", Data: Doc{"n": 0}}}); err != nil {
		t.Fatal(err)
	}

	attempts := 0
	err := s.RunTransaction(ctx, func(tx Tx) error {
		attempts++
		if _, _, err := tx.Get("live", "r1"); err != nil {
			return err
		}
		if attempts == 1 {
			// invalidate the read set before this attempt commits
			if err := s.BatchWrite(ctx, []WriteOp{{Collection: "live", ID: "r1", Data: Doc{"n": 1}}}); err != nil {
				return err
			}
		}
		return tx.Set("live", "r1", Doc{"n": 2}, false)
	})
	if err != nil {
		t.Fatal(err)
	}
	if attempts != 2 {
		t.Fatalf("expected conflict retry, got %d attempts", attempts)
	}
	d, _, _ := s.Get(ctx, "live", "r1")
	if d["n"] != 2 {
		t.Fatalf("final write lost: %v", d)
	}
}

func TestMemoryTxAbsentReadInvalidatedByCreate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	attempts := 0
	err := s.RunTransaction(ctx, func(tx Tx) error {
		attempts++
		_, ok, err := tx.Get("live", "r1")
		if err != nil {
			return err
		}
		if attempts == 1 {
			if ok {
				t.Fatal("doc should be absent on first attempt")
			}
			if err := s.BatchWrite(ctx, []WriteOp{{Collection: "live", ID: "r1", Data: Doc{"n": 1}}}); err != nil {
				return err
			}
			return tx.Set("live", "r1", Doc{"n": 99}, false)
		}
		if !ok {
			t.Fatal("doc should exist on retry")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if attempts != 2 {
		t.Fatalf("absent read not tracked: %d attempts", attempts)
	}
}

func TestMemoryServerTimestampResolved(t *testing.T) {
	s := NewMemoryStore()
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return fixed })
	ctx := context.Background()

	if err := s.BatchWrite(ctx, []WriteOp{{Collection: "claimed", ID: "r1", Data: Doc{"claimedAt": ServerTimestamp}}}); err != nil {
		t.Fatal(err)
	}
	d, _, _ := s.Get(ctx, "claimed", "r1")
	got, ok := d["claimedAt"].(time.Time)
	if !ok || !got.Equal(fixed) {
		t.Fatalf("claimedAt = %v, want %v", d["claimedAt"], fixed)
	}
}

func TestMemoryMergeSetKeepsOtherFields(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.BatchWrite(ctx, []WriteOp{{Collection: "live", ID: "r1", Data: Doc{"tripId": "T1", "vehicle": "Van 3"}}}); err != nil {
		t.Fatal(err)
	}
	if err := s.BatchWrite(ctx, []WriteOp{{Collection: "live", ID: "r1", Data: Doc{"status": "unclaimed"}, Merge: true}}); err != nil {
		t.Fatal(err)
	}
	d, _, _ := s.Get(ctx, "live", "r1")
	if d["vehicle"] != "Van 3" || d["status"] != "unclaimed" {
		t.Fatalf("merge lost fields: %v", d)
	}
}

func TestMemorySubscribeInitialAndUpdates(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.BatchWrite(ctx, []WriteOp{{Collection: "live", ID: "a", Data: Doc{"n": 1}}}); err != nil {
		t.Fatal(err)
	}

	var snaps [][]Document
	cancel, err := s.Subscribe("live", func(docs []Document) { snaps = append(snaps, docs) })
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 1 || len(snaps[0]) != 1 {
		t.Fatalf("want initial snapshot with one doc, got %v", snaps)
	}

	if err := s.BatchWrite(ctx, []WriteOp{{Collection: "live", ID: "b", Data: Doc{"n": 2}}}); err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 2 || len(snaps[1]) != 2 {
		t.Fatalf("want update snapshot with two docs, got %d snaps", len(snaps))
	}

	cancel()
	if err := s.BatchWrite(ctx, []WriteOp{{Collection: "live", ID: "c", Data: Doc{"n": 3}}}); err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 2 {
		t.Fatal("snapshot delivered after cancel")
	}
}

func TestCloneDocIsolation(t *testing.T) {
	orig := Doc{"nested": map[string]any{"k": "v"}, "list": []any{1, 2}}
	c := CloneDoc(orig)
	c["nested"].(map[string]any)["k"] = "changed"
	c["list"].([]any)[0] = 99
	if orig["nested"].(map[string]any)["k"] != "v" {
		t.Fatal("nested map shared between clone and original")
	}
	if orig["list"].([]any)[0] != 1 {
		t.Fatal("slice shared between clone and original")
	}
}
