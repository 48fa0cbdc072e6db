package address

// Pattern is a compiled address pattern: its segment vector plus whether any
// segment is a partial wildcard (spec §4.3's "verify_pattern" case).
type Pattern struct {
	raw          string
	segments     []string
	kinds        []segmentKind
	hasPartial   bool
}

// Compile parses and normalizes an address pattern string.
func Compile(raw string) *Pattern {
	segs := Segments(raw)
	kinds := make([]segmentKind, len(segs))
	hasPartial := false
	for i, s := range segs {
		k := classify(s)
		kinds[i] = k
		if k == segPartialWildcard {
			hasPartial = true
		}
	}
	return &Pattern{raw: Normalize(raw), segments: segs, kinds: kinds, hasPartial: hasPartial}
}

// String returns the normalized pattern text.
func (p *Pattern) String() string { return p.raw }

// Segments exposes the compiled segment vector (read-only use).
func (p *Pattern) Segments() []string { return p.segments }

// HasPartialWildcard reports whether any segment mixes '*' with literal text.
func (p *Pattern) HasPartialWildcard() bool { return p.hasPartial }

// Matches reports whether the compiled pattern matches a concrete address in
// O(segments), per spec §3's Pattern.matches contract. It does not itself
// perform the verify_pattern double-check for partial wildcards beyond
// glob-matching the offending segment directly against its literal position
// — full verification against multi-wildcard-shifted positions is handled
// by the subscription trie, which knows the actual matched span.
func (p *Pattern) Matches(addr string) bool {
	addrSegs := Segments(addr)
	return matchSegments(p.segments, p.kinds, addrSegs)
}

func matchSegments(pat []string, kinds []segmentKind, addr []string) bool {
	return matchFrom(pat, kinds, 0, addr, 0)
}

func matchFrom(pat []string, kinds []segmentKind, pi int, addr []string, ai int) bool {
	for {
		if pi == len(pat) {
			return ai == len(addr)
		}
		switch kinds[pi] {
		case segMultiWildcard:
			// ** consumes zero or more remaining segments; try every split,
			// including recursing into a nested ** later in the pattern.
			for k := ai; k <= len(addr); k++ {
				if matchFrom(pat, kinds, pi+1, addr, k) {
					return true
				}
			}
			return false
		case segSingleWildcard:
			if ai >= len(addr) {
				return false
			}
			pi++
			ai++
		case segPartialWildcard:
			if ai >= len(addr) || !segmentMatchesLiteral(pat[pi], addr[ai]) {
				return false
			}
			pi++
			ai++
		default: // segLiteral
			if ai >= len(addr) || pat[pi] != addr[ai] {
				return false
			}
			pi++
			ai++
		}
	}
}
