package address

// CoveredBy reports whether every address matched by child is also matched
// by parent (spec §4.9). Used both by federation ("does this peer's declared
// namespace cover the requested pattern?") and capability delegation ("is
// the child scope a subset of the parent?").
func CoveredBy(child, parent *Pattern) bool {
	if child.raw == parent.raw {
		return true
	}
	if parent.raw == "/**" {
		return true
	}
	return coveredSegments(child.segments, child.kinds, parent.segments, parent.kinds)
}

// CoveredByStrings is a convenience wrapper compiling both sides.
func CoveredByStrings(child, parent string) bool {
	return CoveredBy(Compile(child), Compile(parent))
}

func coveredSegments(cs []string, ck []segmentKind, ps []string, pk []segmentKind) bool {
	var ci, pi int
	for {
		switch {
		case pi == len(ps) && ci == len(cs):
			return true
		case pi == len(ps):
			return false
		case pk[pi] == segMultiWildcard:
			// A trailing ** in the parent covers everything remaining,
			// including a child ** at this position or beyond.
			return true
		case ci == len(cs):
			return false
		case ck[ci] == segMultiWildcard:
			// Child has ** but parent has no ** here: only covered if the
			// parent has nothing left to constrain (already handled above),
			// so this position is not covered.
			return false
		case pk[pi] == segSingleWildcard:
			// parent '*' covers a literal, partial, or '*' child segment
			// (but not the '**' case, handled above).
			ci++
			pi++
		case ck[ci] == segSingleWildcard || ck[ci] == segPartialWildcard:
			// child wildcards a position where parent has a literal: not covered.
			if pk[pi] != segLiteral {
				// unreachable given the ordering above, defensive fallback
				return false
			}
			return false
		default: // both literal
			if cs[ci] != ps[pi] {
				return false
			}
			ci++
			pi++
		}
	}
}
