package rangehttp

import "testing"

func TestPlanSegmentsCoversRange(t *testing.T) {
	totals := []int64{1, 7, 64, 1000, 1048576, 1000003}
	for _, total := range totals {
		for threads := 1; threads <= 64; threads++ {
			segments := PlanSegments(total, threads)
			want := min(int64(threads), total)
			if int64(len(segments)) != want {
				t.Fatalf("total=%d threads=%d: got %d segments, want %d", total, threads, len(segments), want)
			}
			if !coversExactly(segments, total) {
				t.Fatalf("total=%d threads=%d: segments do not tile [0,%d): %v", total, threads, total, segments)
			}
			chunk := total / want
			for i, s := range segments {
				if s.Cursor != s.Start {
					t.Fatalf("segment %d cursor %d != start %d", i, s.Cursor, s.Start)
				}
				if i < len(segments)-1 && s.End-s.Start != chunk {
					t.Fatalf("segment %d has %d bytes, want %d", i, s.End-s.Start, chunk)
				}
			}
		}
	}
}

func TestPlanSegmentsLastAbsorbsRemainder(t *testing.T) {
	segments := PlanSegments(10, 3)
	want := []Segment{{0, 0, 3}, {3, 3, 6}, {6, 6, 10}}
	if len(segments) != len(want) {
		t.Fatalf("got %v, want %v", segments, want)
	}
	for i := range want {
		if segments[i] != want[i] {
			t.Errorf("segment %d = %v, want %v", i, segments[i], want[i])
		}
	}
}

func TestPlanSegmentsEdgeCases(t *testing.T) {
	if got := PlanSegments(0, 4); got != nil {
		t.Errorf("PlanSegments(0, 4) = %v, want nil", got)
	}
	if got := PlanSegments(100, 0); len(got) != 1 || got[0].End != 100 {
		t.Errorf("PlanSegments(100, 0) = %v, want one segment", got)
	}
	if got := PlanSegments(3, 8); len(got) != 3 {
		t.Errorf("PlanSegments(3, 8) = %v, want 3 one-byte segments", got)
	}
}

func TestCoversExactly(t *testing.T) {
	tests := []struct {
		name     string
		segments []Segment
		total    int64
		want     bool
	}{
		{"exact", []Segment{{0, 5, 10}, {10, 10, 20}}, 20, true},
		{"gap", []Segment{{0, 0, 10}, {11, 11, 20}}, 20, false},
		{"overlap", []Segment{{0, 0, 10}, {9, 9, 20}}, 20, false},
		{"short", []Segment{{0, 0, 10}}, 20, false},
		{"cursor past end", []Segment{{0, 11, 10}}, 10, false},
		{"empty", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := coversExactly(tt.segments, tt.total); got != tt.want {
				t.Errorf("coversExactly() = %v, want %v", got, tt.want)
			}
		})
	}
}
