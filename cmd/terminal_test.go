package main

import (
	"bytes"
	"testing"
)

func TestCRLFWriter(t *testing.T) {
	var buf bytes.Buffer
	w := crlfWriter{w: &buf}
	n, err := w.Write([]byte("one\ntwo\r\nthree"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != len("one\ntwo\r\nthree") {
		t.Fatalf("write should report the input length, got %d", n)
	}
	if got := buf.String(); got != "one\r\ntwo\r\nthree" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestPickPrimary(t *testing.T) {
	serials := []string{"SN-A", "SN-B"}
	cases := []struct {
		flag   string
		answer string
		want   int
		ok     bool
	}{
		{flag: "SN-B", want: 1, ok: true},
		{flag: "SN-X", ok: false},
		{answer: "1", want: 0, ok: true},
		{answer: " 2 ", want: 1, ok: true},
		{answer: "3", ok: false},
		{answer: "left", ok: false},
	}
	for _, tc := range cases {
		got, err := pickPrimary(serials, tc.flag, tc.answer)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("pickPrimary(%q, %q) = %d, %v; want %d", tc.flag, tc.answer, got, err, tc.want)
		}
		if !tc.ok && err == nil {
			t.Fatalf("pickPrimary(%q, %q) should fail", tc.flag, tc.answer)
		}
	}
}
