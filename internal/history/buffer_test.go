package history

import (
	"sync"
	"testing"
	"time"

	"github.com/shaunagostinho/biomet-dash/internal/biomet"
)

func entryAt(base time.Time, i int) Entry {
	rec := biomet.NewRecord()
	rec["BattV"] = float64(i)
	return Entry{Time: base.Add(time.Duration(i) * time.Second), Record: rec}
}

func TestBuffer_EvictsOldestAtCapacity(t *testing.T) {
	b := New(DefaultCapacity)
	base := time.Now()

	const appended = DefaultCapacity + 1
	for i := 0; i < appended; i++ {
		b.Append(entryAt(base, i))
		if b.Len() > DefaultCapacity {
			t.Fatalf("after %d appends length %d exceeds capacity", i+1, b.Len())
		}
	}

	all := b.All()
	if len(all) != DefaultCapacity {
		t.Fatalf("expected %d entries, got %d", DefaultCapacity, len(all))
	}
	// Retained window is the last 3600 appended, in order.
	for i, e := range all {
		want := float64(i + 1)
		if e.Record["BattV"] != want {
			t.Fatalf("entry %d: expected BattV %v, got %v", i, want, e.Record["BattV"])
		}
	}
}

func TestBuffer_OrderBeforeWrap(t *testing.T) {
	b := New(5)
	base := time.Now()
	for i := 0; i < 3; i++ {
		b.Append(entryAt(base, i))
	}

	all := b.All()
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	for i, e := range all {
		if !e.Time.Equal(base.Add(time.Duration(i) * time.Second)) {
			t.Errorf("entry %d out of order: %v", i, e.Time)
		}
	}

	last, ok := b.Last()
	if !ok || last.Record["BattV"] != 2 {
		t.Errorf("expected last BattV 2, got %v (ok=%v)", last.Record["BattV"], ok)
	}
}

func TestBuffer_WrapManyTimes(t *testing.T) {
	b := New(4)
	base := time.Now()
	for i := 0; i < 23; i++ {
		b.Append(entryAt(base, i))
	}

	all := b.All()
	want := []float64{19, 20, 21, 22}
	for i, e := range all {
		if e.Record["BattV"] != want[i] {
			t.Errorf("entry %d: expected %v, got %v", i, want[i], e.Record["BattV"])
		}
	}
	if last, _ := b.Last(); last.Record["BattV"] != 22 {
		t.Errorf("expected last 22, got %v", last.Record["BattV"])
	}
}

func TestBuffer_Clear(t *testing.T) {
	b := New(3)
	base := time.Now()
	for i := 0; i < 5; i++ {
		b.Append(entryAt(base, i))
	}

	b.Clear()

	if b.Len() != 0 {
		t.Errorf("expected empty buffer, got %d", b.Len())
	}
	if len(b.All()) != 0 {
		t.Error("All returned entries after Clear")
	}
	if _, ok := b.Last(); ok {
		t.Error("Last reported an entry after Clear")
	}

	b.Append(entryAt(base, 7))
	if all := b.All(); len(all) != 1 || all[0].Record["BattV"] != 7 {
		t.Errorf("unexpected contents after reuse: %+v", all)
	}
}

func TestBuffer_DefaultCapacity(t *testing.T) {
	if c := New(0).Cap(); c != DefaultCapacity {
		t.Errorf("expected capacity %d, got %d", DefaultCapacity, c)
	}
}

func TestBuffer_ConcurrentReaders(t *testing.T) {
	b := New(100)
	base := time.Now()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			b.Append(entryAt(base, i))
		}
	}()
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if n := len(b.All()); n > 100 {
					t.Errorf("read %d entries from a 100-entry buffer", n)
					return
				}
			}
		}()
	}
	wg.Wait()

	if b.Len() != 100 {
		t.Errorf("expected 100 entries, got %d", b.Len())
	}
}
