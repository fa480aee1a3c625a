package iterator

import (
	"bytes"
	"testing"
)

func pairs(keys ...string) []Pair {
	out := make([]Pair, len(keys))
	for i, k := range keys {
		out[i] = Pair{Key: []byte(k), Value: []byte("v" + k)}
	}
	return out
}

func TestSlice_Walk(t *testing.T) {
	it := NewSlice(pairs("a", "c", "e"), bytes.Compare)
	if it.Valid() {
		t.Fatal("A new iterator must not be positioned")
	}

	var fwd []string
	for it.First(); it.Valid(); it.Next() {
		fwd = append(fwd, string(it.Key()))
	}
	if len(fwd) != 3 || fwd[0] != "a" || fwd[2] != "e" {
		t.Fatalf("Unexpected forward walk %v", fwd)
	}

	var back []string
	for it.Last(); it.Valid(); it.Prev() {
		back = append(back, string(it.Value()))
	}
	if len(back) != 3 || back[0] != "ve" || back[2] != "va" {
		t.Fatalf("Unexpected backward walk %v", back)
	}
}

func TestSlice_Seek(t *testing.T) {
	it := NewSlice(pairs("a", "c", "e"), bytes.Compare)

	tests := []struct {
		target string
		want   string
		valid  bool
	}{
		{"", "a", true},
		{"a", "a", true},
		{"b", "c", true},
		{"e", "e", true},
		{"f", "", false},
	}
	for _, tt := range tests {
		it.Seek([]byte(tt.target))
		if it.Valid() != tt.valid {
			t.Fatalf("Seek(%q): valid = %v, expected %v", tt.target, it.Valid(), tt.valid)
		}
		if tt.valid && string(it.Key()) != tt.want {
			t.Fatalf("Seek(%q) = %s, expected %s", tt.target, it.Key(), tt.want)
		}
	}

	if err := it.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	it.First()
	if it.Valid() {
		t.Fatal("A closed iterator must stay invalid")
	}
}
