package scheduler

import "testing"

func TestNumChunks(t *testing.T) {
	cases := []struct {
		total, size, want int
	}{
		{10, 3, 4},
		{4, 2, 2},
		{1, 5, 1},
		{5, 5, 1},
		{6, 5, 2},
		{0, 5, 0},
		{5, 0, 0},
		{-3, 2, 0},
	}
	for _, tc := range cases {
		if got := NumChunks(tc.total, tc.size); got != tc.want {
			t.Errorf("NumChunks(%d, %d) = %d, want %d", tc.total, tc.size, got, tc.want)
		}
	}
}

func TestChunkRange(t *testing.T) {
	cases := []struct {
		chunk, total, size  int
		wantFirst, wantLast int
	}{
		{1, 10, 3, 1, 3},
		{2, 10, 3, 4, 6},
		{3, 10, 3, 7, 9},
		{4, 10, 3, 10, 10},
		{1, 4, 2, 1, 2},
		{2, 4, 2, 3, 4},
		{1, 1, 5, 1, 1},
	}
	for _, tc := range cases {
		first, last := ChunkRange(tc.chunk, tc.total, tc.size)
		if first != tc.wantFirst || last != tc.wantLast {
			t.Errorf("ChunkRange(%d, %d, %d) = [%d, %d], want [%d, %d]",
				tc.chunk, tc.total, tc.size, first, last, tc.wantFirst, tc.wantLast)
		}
	}
}

func TestChunksCoverEveryScenarioOnce(t *testing.T) {
	for _, tc := range []struct{ total, size int }{{10, 3}, {4, 2}, {7, 7}, {9, 4}, {1, 1}} {
		seen := make(map[int]int)
		n := NumChunks(tc.total, tc.size)
		for c := 1; c <= n; c++ {
			first, last := ChunkRange(c, tc.total, tc.size)
			for id := first; id <= last; id++ {
				seen[id]++
			}
		}
		for id := 1; id <= tc.total; id++ {
			if seen[id] != 1 {
				t.Errorf("total=%d size=%d: scenario %d covered %d times", tc.total, tc.size, id, seen[id])
			}
		}
		if len(seen) != tc.total {
			t.Errorf("total=%d size=%d: covered %d scenarios", tc.total, tc.size, len(seen))
		}
	}
}
