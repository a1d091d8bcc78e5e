package recovery

// Span is a half-open index range [Start, End).
type Span struct {
	Start, End int
}

func (s Span) Len() int { return s.End - s.Start }

// Partition splits n items between workers. Every worker gets n/workers
// items and the last one also takes the remainder.
func Partition(n, workers int) []Span {
	if workers < 1 {
		workers = 1
	}
	per := n / workers
	spans := make([]Span, workers)
	for i := range spans {
		spans[i] = Span{Start: per * i, End: per * (i + 1)}
	}
	spans[workers-1].End = n
	return spans
}
