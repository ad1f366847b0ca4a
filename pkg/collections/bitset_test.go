package collections

import (
	"testing"
)

func TestBitset_Basic(t *testing.T) {
	b := NewBitset(100)
	if b.Size() != 100 || b.Count() != 0 {
		t.Fatalf("Expected empty bitset of 100, got size %d count %d", b.Size(), b.Count())
	}
	if got := b.ClaimRange(98, 2); got != 2 {
		t.Errorf("Expected 2 claimed, got %d", got)
	}
	if NewBitset(-1).Size() != 0 {
		t.Error("Expected negative size to clamp to 0")
	}
}

func TestBitset_ClaimRange(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		ranges [][2]int
		want   []int
	}{
		{"single word", 64, [][2]int{{4, 8}}, []int{8}},
		{"spans words", 200, [][2]int{{60, 80}}, []int{80}},
		{"full word", 128, [][2]int{{64, 64}}, []int{64}},
		{"overlap counted once", 128, [][2]int{{0, 16}, {8, 16}}, []int{16, 8}},
		{"repeat claims nothing", 32, [][2]int{{0, 32}, {0, 32}}, []int{32, 0}},
		{"clipped at end", 10, [][2]int{{6, 100}}, []int{4}},
		{"negative start", 10, [][2]int{{-4, 6}}, []int{2}},
		{"empty", 10, [][2]int{{3, 0}}, []int{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBitset(tt.size)
			total := 0
			for i, r := range tt.ranges {
				got := b.ClaimRange(r[0], r[1])
				if got != tt.want[i] {
					t.Errorf("claim %d: expected %d, got %d", i, tt.want[i], got)
				}
				total += got
			}
			if b.Count() != total {
				t.Errorf("Expected count %d, got %d", total, b.Count())
			}
		})
	}
}
