package rangehttp

// PlanSegments splits [0, total) into threads contiguous segments of
// total/threads bytes; the last one absorbs the remainder. More threads than
// bytes collapses to one byte per segment.
func PlanSegments(total int64, threads int) []Segment {
	if total <= 0 {
		return nil
	}
	threads = max(threads, 1)
	if int64(threads) > total {
		threads = int(total)
	}
	chunk := total / int64(threads)
	segments := make([]Segment, 0, threads)
	for i := range threads {
		start := int64(i) * chunk
		end := start + chunk
		if i == threads-1 {
			end = total
		}
		segments = append(segments, Segment{Start: start, Cursor: start, End: end})
	}
	return segments
}

// coversExactly reports whether segments tile [0, total) in order with no
// gaps, no overlaps and consistent cursors.
func coversExactly(segments []Segment, total int64) bool {
	if len(segments) == 0 {
		return false
	}
	var next int64
	for _, s := range segments {
		if !s.valid() || s.Start != next || s.End <= s.Start {
			return false
		}
		next = s.End
	}
	return next == total
}

func downloadedBytes(segments []Segment) int64 {
	var n int64
	for _, s := range segments {
		n += s.Downloaded()
	}
	return n
}
