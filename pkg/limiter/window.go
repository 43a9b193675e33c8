package limiter

import "time"

// Step classifies what a check did to a window.
type Step int

const (
	// StepAllowed: the request fits in the window.
	StepAllowed Step = iota
	// StepExceeded: the window is over its maximum and the policy has no block
	// duration; requests are refused until the window ends.
	StepExceeded
	// StepBlocked: a block set by an earlier check is still in force.
	StepBlocked
	// StepNewlyBlocked: this check pushed the count over the maximum and set a
	// block.
	StepNewlyBlocked
)

// advance applies one check at now to w. found is false when no window is
// stored for the identity. It returns the resulting window, the step and
// whether the window must be written back.
//
// Transitions:
//   - blocked and the block is in the future: refuse, no write.
//   - no window, window ended, or block expired: start a fresh window.
//   - otherwise count the request when increment is set.
//   - count above max: block for the policy's block duration.
//
// A check without increment never writes; when it would have opened a fresh
// window it reports that window without storing it.
func advance(w Window, found bool, p Policy, now int64, increment bool) (Window, Step, bool) {
	if found && w.Blocked(now) {
		return w, StepBlocked, false
	}

	changed := false
	if !found || now >= w.End || (w.BlockedUntil != 0 && now >= w.BlockedUntil) {
		w = Window{Start: now, End: now + p.windowMs()}
		if !increment {
			return w, StepAllowed, false
		}
		w.Count = 1
		changed = true
	} else if increment {
		w.Count++
		changed = true
	}

	if w.Count <= p.MaxRequests {
		return w, StepAllowed, changed
	}
	if p.blockMs() <= 0 {
		return w, StepExceeded, changed
	}
	w.BlockedUntil = now + p.blockMs()
	return w, StepNewlyBlocked, true
}

// decide turns a window and step into the caller-facing decision.
func decide(w Window, st Step, p Policy, now int64, warnAt int64) Decision {
	d := Decision{BlockedUntil: w.BlockedUntil}
	switch st {
	case StepBlocked, StepNewlyBlocked:
		d.ResetTime = w.BlockedUntil
		d.BlockType = BlockAutomatic
	case StepExceeded:
		d.ResetTime = w.End
	default:
		d.Allowed = true
		d.ResetTime = w.End
		d.Remaining = max(p.MaxRequests-w.Count, 0)
		d.Warning = d.Remaining <= warnAt
		d.BlockedUntil = 0
	}
	if !d.Allowed {
		d.RetryAfter = msDuration(d.ResetTime - now)
	}
	return d
}

// expiresAt is the epoch ms after which a stored window carries no state.
func expiresAt(w Window) int64 {
	return max(w.End, w.BlockedUntil)
}

func msDuration(ms int64) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
