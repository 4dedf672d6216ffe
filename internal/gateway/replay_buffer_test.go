package gateway

import "testing"

func TestReplayBuffer_Range(t *testing.T) {
	rb := NewReplayBuffer(100)
	for i := int64(1); i <= 10; i++ {
		rb.Push(i, []byte("msg"))
	}

	got := rb.Range(3, 7)
	if len(got) != 5 {
		t.Fatalf("Range(3,7): expected 5, got %d", len(got))
	}
	for i, e := range got {
		if want := int64(i) + 3; e.Seq != want {
			t.Errorf("entry[%d].Seq = %d, want %d", i, e.Seq, want)
		}
	}
}

func TestReplayBuffer_Wraparound(t *testing.T) {
	rb := NewReplayBuffer(5)

	// Push 8 entries; the first 3 are evicted.
	for i := int64(1); i <= 8; i++ {
		rb.Push(i, []byte("msg"))
	}
	if rb.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", rb.Len())
	}
	got := rb.Range(1, 10)
	if len(got) != 5 || got[0].Seq != 4 || got[4].Seq != 8 {
		t.Fatalf("Range(1,10) = %v", got)
	}
	if oldest, ok := rb.Oldest(); !ok || oldest != 4 {
		t.Fatalf("Oldest() = %d, %v, want 4", oldest, ok)
	}
}

func TestReplayBuffer_Empty(t *testing.T) {
	rb := NewReplayBuffer(10)
	if got := rb.Range(1, 100); len(got) != 0 {
		t.Fatalf("empty buffer Range should return 0, got %d", len(got))
	}
	if _, ok := rb.Oldest(); ok {
		t.Fatal("empty buffer has no oldest entry")
	}
}

func TestReplayBuffer_CopiesData(t *testing.T) {
	rb := NewReplayBuffer(4)
	data := []byte("abc")
	rb.Push(1, data)
	data[0] = 'x'
	if got := string(rb.Range(1, 1)[0].Data); got != "abc" {
		t.Fatalf("stored = %q, want abc", got)
	}
}
