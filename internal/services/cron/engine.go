// Package cron wraps cron expression parsing and next-fire computation.
// All returned instants are UTC; computation happens in the schedule's
// timezone so wall-clock semantics survive DST transitions.
package cron

import (
	"regexp"
	"strings"
	"time"

	robfig "github.com/robfig/cron/v3"

	"github.com/ternarybob/trawler/internal/models"
)

// Advisory flags a next-fire instant that landed on a DST transition.
// Storage is UTC so fires are never duplicated or lost; the advisory only
// tells callers the local wall-clock was skipped or ambiguous.
type Advisory string

const (
	AdvisoryNone Advisory = ""
	// AdvisorySpringForward: the wall-clock target fell in a skipped gap;
	// the fire lands at the first valid instant after it.
	AdvisorySpringForward Advisory = "spring_forward"
	// AdvisoryFallBack: the wall-clock target repeats; the fire lands on the
	// first occurrence.
	AdvisoryFallBack Advisory = "fall_back"
)

// mnemonics accepted in place of a field expression.
var mnemonics = map[string]bool{
	"@yearly": true, "@annually": true, "@monthly": true, "@weekly": true,
	"@daily": true, "@midnight": true, "@hourly": true,
}

// fieldPattern is a cheap shape check run before the real parser; it rejects
// obvious garbage without exercising the parser's error paths.
var fieldPattern = regexp.MustCompile(`^[0-9*,/\-A-Za-z?#LW]+$`)

// parser accepts standard 5-field expressions plus an optional leading
// seconds field and the @mnemonic shorthands.
var parser = robfig.NewParser(
	robfig.SecondOptional | robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow | robfig.Descriptor,
)

// Validate checks expression format and semantics.
func Validate(expr string) error {
	_, err := parseExpr(expr)
	return err
}

func parseExpr(expr string) (robfig.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, models.NewValidationError("cron expression is empty")
	}

	if strings.HasPrefix(expr, "@") {
		if !mnemonics[expr] {
			return nil, models.NewValidationError("unknown cron mnemonic %q", expr)
		}
	} else {
		fields := strings.Fields(expr)
		if len(fields) < 5 || len(fields) > 6 {
			return nil, models.NewValidationError("cron expression %q must have 5 or 6 fields, got %d", expr, len(fields))
		}
		for _, field := range fields {
			if !fieldPattern.MatchString(field) {
				return nil, models.NewValidationError("invalid cron field %q in %q", field, expr)
			}
		}
	}

	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, models.NewValidationError("invalid cron expression %q: %v", expr, err)
	}
	return sched, nil
}

// NextRun computes the next fire instant strictly after base. tz defaults to
// UTC and must be an IANA zone name. A naive base is treated as UTC; the
// result is always UTC.
//
// The schedule is advanced in wall-clock terms and the resulting wall time
// mapped back into the zone. A wall time skipped by a spring-forward
// transition fires at the first valid instant after the gap; a wall time
// repeated by a fall-back transition fires on its first occurrence.
func NextRun(expr string, base time.Time, tz string) (time.Time, Advisory, error) {
	sched, err := parseExpr(expr)
	if err != nil {
		return time.Time{}, AdvisoryNone, err
	}

	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, AdvisoryNone, models.NewValidationError("unknown timezone %q: %v", tz, err)
	}

	// Walk the schedule in a fixed-offset copy of the zone so the stepper
	// sees pure wall-clock time, then resolve each candidate against the
	// real zone.
	_, baseOffset := base.In(loc).Zone()
	fixed := time.FixedZone(tz, baseOffset)
	cursor := base.In(fixed)

	for i := 0; i < 4; i++ {
		cand := sched.Next(cursor)
		if cand.IsZero() {
			return time.Time{}, AdvisoryNone, models.NewValidationError("cron expression %q has no future fire", expr)
		}
		cursor = cand

		fire, advisory := resolveWallClock(cand, loc)
		if fire.After(base) {
			return fire.UTC(), advisory, nil
		}
	}

	// Transition edge cases exhausted the walk; fall back to stepping in
	// the real zone.
	next := sched.Next(base.In(loc))
	if next.IsZero() {
		return time.Time{}, AdvisoryNone, models.NewValidationError("cron expression %q has no future fire", expr)
	}
	return next.UTC(), AdvisoryNone, nil
}

// resolveWallClock maps a wall-clock target into loc, handling DST gaps and
// repeats.
func resolveWallClock(wall time.Time, loc *time.Location) (time.Time, Advisory) {
	y, mo, d := wall.Date()
	h, mi, s := wall.Clock()
	mapped := time.Date(y, mo, d, h, mi, s, 0, loc)

	mh, mmi, _ := mapped.Clock()
	if mapped.Day() != d || mh != h || mmi != mi {
		// The wall time does not exist; the mapping shifted it across a
		// spring-forward gap. Fire at the first instant after the gap.
		return gapEnd(mapped, loc), AdvisorySpringForward
	}

	// Repeated wall time: a neighbor one hour away shows the same clock.
	earlier := mapped.Add(-time.Hour)
	if sameWallClock(earlier.In(loc), mapped) {
		return earlier, AdvisoryFallBack
	}
	if sameWallClock(mapped.Add(time.Hour).In(loc), mapped) {
		return mapped, AdvisoryFallBack
	}

	return mapped, AdvisoryNone
}

func sameWallClock(a, b time.Time) bool {
	ah, am, as := a.Clock()
	bh, bm, bs := b.Clock()
	return a.Day() == b.Day() && ah == bh && am == bm && as == bs
}

// gapEnd binary-searches for the transition instant ending the spring-forward
// gap around t. t itself may sit on either side of the gap, because mapping a
// nonexistent wall time through time.Date can land before or after it; the
// search therefore brackets the transition from both sides and takes the
// post-transition offset from the high end.
func gapEnd(t time.Time, loc *time.Location) time.Time {
	lo := t.Add(-3 * time.Hour)
	hi := t.Add(3 * time.Hour)
	_, after := hi.In(loc).Zone()
	for hi.Sub(lo) > time.Second {
		mid := lo.Add(hi.Sub(lo) / 2)
		if _, offset := mid.In(loc).Zone(); offset == after {
			hi = mid
		} else {
			lo = mid
		}
	}
	return hi.In(loc).Truncate(time.Second)
}
