package provider

import "time"

type DateRange struct {
	From time.Time
	To   time.Time
}

// Days is the number of calendar days covered, both ends included.
func (r DateRange) Days() int {
	return int(r.To.Sub(r.From).Hours()/24) + 1
}

// SplitRange cuts [from, to] into consecutive windows of at most days
// calendar days. Symbol-range requests are split so a single response stays
// under the provider's row cap.
func SplitRange(from, to time.Time, days int) []DateRange {
	if days <= 0 || from.After(to) {
		return nil
	}

	chunks := make([]DateRange, 0, (int(to.Sub(from).Hours()/24)/days)+1)
	for start := from; !start.After(to); {
		end := start.AddDate(0, 0, days-1)
		if end.After(to) {
			end = to
		}
		chunks = append(chunks, DateRange{From: start, To: end})
		start = end.AddDate(0, 0, 1)
	}
	return chunks
}
