package scanrig

import "testing"

func TestSequenceNextPairsStayEven(t *testing.T) {
	seq := NewSequence("")
	for i := 0; i < 5; i++ {
		start := seq.Next(2)
		if start%2 != 0 {
			t.Fatalf("pair start should be even, got %d", start)
		}
		if seq.Peek() != start+2 {
			t.Fatalf("counter should be start+2, got %d", seq.Peek())
		}
	}
}

func TestSequenceOverride(t *testing.T) {
	cases := map[int]int{0: 0, 1: 0, 7: 6, 8: 8, 123: 122}
	for in, want := range cases {
		seq := NewSequence("")
		got, err := seq.Override(in)
		if err != nil {
			t.Fatalf("override %d: %v", in, err)
		}
		if got != want {
			t.Fatalf("override %d = %d, want %d", in, got, want)
		}
		if start := seq.Next(2); start != want {
			t.Fatalf("next after override %d = %d, want %d", in, start, want)
		}
	}
	if _, err := NewSequence("").Override(-2); err == nil {
		t.Fatal("negative override should fail")
	}
}

func TestSequenceSingleAdvance(t *testing.T) {
	seq := NewSequence("")
	if start := seq.Next(1); start != 0 || seq.Peek() != 1 {
		t.Fatalf("single advance mismatch: start=%d next=%d", start, seq.Peek())
	}
	if start := seq.Next(0); start != 1 || seq.Peek() != 1 {
		t.Fatal("zero count should not advance")
	}
}

func TestSequenceFilename(t *testing.T) {
	seq := NewSequence("")
	if got := seq.Filename(0); got != "img00000.jpg" {
		t.Fatalf("filename 0 = %s", got)
	}
	if got := seq.Filename(1234); got != "img01234.jpg" {
		t.Fatalf("filename 1234 = %s", got)
	}
	if got := NewSequence("page-%04d.tif").Filename(3); got != "page-0003.tif" {
		t.Fatalf("custom pattern = %s", got)
	}
}
