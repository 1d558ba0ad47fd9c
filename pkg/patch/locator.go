package patch

import (
	"strings"
)

// MatchTier is the strictness level at which a hunk's context matched.
type MatchTier int

const (
	// TierExact means every line matched byte for byte.
	TierExact MatchTier = iota
	// TierTrimmed means lines matched once trailing whitespace was ignored.
	TierTrimmed
)

func (t MatchTier) String() string {
	if t == TierTrimmed {
		return "trimmed"
	}
	return "exact"
}

// ResolvedEdit is a hunk bound to the half-open line range [Start, End) of
// the buffer it was located in.
type ResolvedEdit struct {
	Hunk  Hunk
	Start int
	End   int
	Tier  MatchTier
}

// Locate finds where h applies in lines, never looking before from.
//
// The hunk's before-text (context and removed lines) is matched exactly
// first, then with trailing whitespace ignored. An unanchored hunk must match
// exactly one location at the first tier that matches anything; an anchored
// hunk binds to the first match starting at the anchor line.
//
// The returned *LocateError has HunkIndex and Path unset; callers fill them.
func Locate(h Hunk, lines []string, from int) (ResolvedEdit, error) {
	if from < 0 {
		from = 0
	}
	if from > len(lines) {
		from = len(lines)
	}

	before := h.Before()
	start := from
	if h.Anchor != "" {
		idx := findAnchor(lines, from, h.Anchor)
		if idx < 0 {
			return ResolvedEdit{}, &LocateError{Code: ReasonAnchorNotFound, Anchor: h.Anchor, Before: before}
		}
		// The anchor line itself may be repeated as the first context line.
		start = idx
	}

	// Pure insertion: right after the anchor, otherwise at end of file.
	if len(before) == 0 {
		pos := len(lines)
		if h.Anchor != "" && !h.EndOfFile {
			pos = start + 1
		}
		return ResolvedEdit{Hunk: h, Start: pos, End: pos}, nil
	}

	firstOnly := h.Anchor != ""
	for _, tier := range []MatchTier{TierExact, TierTrimmed} {
		matches := findMatches(lines, before, start, h.EndOfFile, tier, firstOnly)
		switch {
		case len(matches) == 0:
			continue
		case len(matches) > 1:
			return ResolvedEdit{}, &LocateError{
				Code:    ReasonAmbiguousMatch,
				Anchor:  h.Anchor,
				Before:  before,
				Matches: len(matches),
			}
		}
		return ResolvedEdit{Hunk: h, Start: matches[0], End: matches[0] + len(before), Tier: tier}, nil
	}

	return ResolvedEdit{}, &LocateError{Code: ReasonContextNotFound, Anchor: h.Anchor, Before: before}
}

// findAnchor returns the index of the first line at or after from that
// contains the anchor text, or -1.
func findAnchor(lines []string, from int, anchor string) int {
	anchor = strings.TrimSpace(anchor)
	for i := from; i < len(lines); i++ {
		if strings.Contains(lines[i], anchor) {
			return i
		}
	}
	return -1
}

// findMatches returns every start index at or after from where want occurs
// in lines at the given tier. With firstOnly it stops at the first hit.
func findMatches(lines, want []string, from int, atEOF bool, tier MatchTier, firstOnly bool) []int {
	last := len(lines) - len(want)
	if last < from {
		return nil
	}

	first := from
	if atEOF {
		first = last
	}

	var matches []int
	for pos := first; pos <= last; pos++ {
		if matchAt(lines, want, pos, tier) {
			matches = append(matches, pos)
			if firstOnly {
				break
			}
		}
	}
	return matches
}

func matchAt(lines, want []string, pos int, tier MatchTier) bool {
	for i, w := range want {
		got := lines[pos+i]
		if tier == TierTrimmed {
			got, w = trimTrailing(got), trimTrailing(w)
		}
		if got != w {
			return false
		}
	}
	return true
}
