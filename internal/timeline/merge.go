package timeline

import (
	"sort"

	"github.com/shopspring/decimal"
)

// timePrecision is the number of decimal places kept on rebased cue times
const timePrecision = 3

// SegmentCues holds the recognizer output for one segment, with cue times
// relative to the segment start
type SegmentCues struct {
	Index       int
	StartOffset float64
	Cues        []MouthCue
}

// MergeOptions controls boundary handling between adjacent segments
type MergeOptions struct {
	// CoalesceEpsilon joins the last cue of a segment with the first cue of the
	// next one when both carry the same shape and the gap between them is below
	// this value (seconds). Zero disables coalescing.
	CoalesceEpsilon float64
}

// MergeStats describes what Merge did at segment boundaries
type MergeStats struct {
	Segments  int `json:"segments"`
	CuesIn    int `json:"cues_in"`
	CuesOut   int `json:"cues_out"`
	Coalesced int `json:"coalesced"`
	Clamped   int `json:"clamped"`
	Dropped   int `json:"dropped"`
}

// Merge rebases every segment's cues onto the global timeline and concatenates
// them in segment order. The result is monotonic and non-overlapping: a cue
// starting before its predecessor ends is clamped to that end, and cues that
// degenerate to zero length are dropped.
func Merge(results []SegmentCues, opts MergeOptions) Timeline {
	t, _ := MergeWithStats(results, opts)
	return t
}

// MergeWithStats is Merge plus boundary statistics
func MergeWithStats(results []SegmentCues, opts MergeOptions) (Timeline, MergeStats) {
	ordered := make([]SegmentCues, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	stats := MergeStats{Segments: len(ordered)}
	total := 0
	for _, r := range ordered {
		total += len(r.Cues)
	}
	stats.CuesIn = total

	out := make(Timeline, 0, total)
	for si, r := range ordered {
		offset := decimal.NewFromFloat(r.StartOffset)

		for ci, c := range r.Cues {
			cue := MouthCue{
				Start: rebase(offset, c.Start),
				End:   rebase(offset, c.End),
				Value: c.Value,
			}

			if n := len(out); n > 0 {
				prev := &out[n-1]

				if si > 0 && ci == 0 && opts.CoalesceEpsilon > 0 &&
					prev.Value == cue.Value && cue.Start-prev.End < opts.CoalesceEpsilon {
					if cue.End > prev.End {
						prev.End = cue.End
					}
					stats.Coalesced++
					continue
				}

				if cue.Start < prev.End {
					cue.Start = prev.End
					stats.Clamped++
				}
			}

			if cue.End <= cue.Start {
				stats.Dropped++
				continue
			}

			out = append(out, cue)
		}
	}

	stats.CuesOut = len(out)
	return out, stats
}

func rebase(offset decimal.Decimal, local float64) float64 {
	v, _ := offset.Add(decimal.NewFromFloat(local)).Round(timePrecision).Float64()
	return v
}
