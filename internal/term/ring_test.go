package term

import (
	"bytes"
	"strings"
	"testing"
)

func TestRing_KeepsMostRecentBytes(t *testing.T) {
	t.Parallel()

	r := NewRing(8)
	if _, err := r.Write([]byte("abcd")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := string(r.Bytes()); got != "abcd" {
		t.Fatalf("bytes got=%q want=%q", got, "abcd")
	}
	if r.Truncated() {
		t.Fatalf("ring truncated before overflow")
	}

	if _, err := r.Write([]byte("efghij")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := string(r.Bytes()); got != "cdefghij" {
		t.Fatalf("bytes got=%q want=%q", got, "cdefghij")
	}
	if !r.Truncated() {
		t.Fatalf("overflowing write must mark the ring truncated")
	}
	if r.Len() != 8 {
		t.Fatalf("len got=%d want=8", r.Len())
	}
}

func TestRing_OversizedWriteKeepsTail(t *testing.T) {
	t.Parallel()

	r := NewRing(4)
	payload := strings.Repeat("x", 3) + "TAIL"
	if _, err := r.Write([]byte(payload)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := string(r.Bytes()); got != "TAIL" {
		t.Fatalf("bytes got=%q want=%q", got, "TAIL")
	}
}

func TestRing_BytesReturnsCopy(t *testing.T) {
	t.Parallel()

	r := NewRing(16)
	_, _ = r.Write([]byte("data"))

	b := r.Bytes()
	b[0] = 'X'
	if !bytes.Equal(r.Bytes(), []byte("data")) {
		t.Fatalf("mutating the returned slice must not affect the ring")
	}
}

func TestSweeper_RemovesDeadPIDsOnly(t *testing.T) {
	t.Parallel()

	removed := make(map[int]bool)
	s := NewSweeper(SweeperOptions{
		PIDs:   func() []int { return []int{10, 20, 30} },
		Remove: func(pid int) { removed[pid] = true },
	})
	s.alive = func(pid int) bool { return pid == 20 }

	s.sweepOnce()

	if !removed[10] || !removed[30] {
		t.Fatalf("dead pids not removed: %v", removed)
	}
	if removed[20] {
		t.Fatalf("live pid removed")
	}
}

func TestSweeper_SkipsNonPositivePIDs(t *testing.T) {
	t.Parallel()

	removed := 0
	s := NewSweeper(SweeperOptions{
		PIDs:   func() []int { return []int{-1, 0} },
		Remove: func(int) { removed++ },
	})

	s.sweepOnce()
	if removed != 0 {
		t.Fatalf("non-positive pids must never be swept, removed=%d", removed)
	}
}
