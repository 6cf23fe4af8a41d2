// Package decay implements the ACT-R-style activation model.
package decay

import (
	"math"
	"time"

	"engram/internal/memory"
)

// Status is the decay-derived visibility state of a cell.
type Status = memory.ActivationStatus

type curve struct {
	d, beta float64
}

var urgencyCurve = map[memory.Urgency]curve{
	memory.UrgencyCritical:   {0.3, 2.0},
	memory.UrgencyImportant:  {0.5, 1.0},
	memory.UrgencyReference:  {0.6, 0.0},
	memory.UrgencyBackground: {0.8, -1.0},
}

const minHoursSinceAccess = 0.001

// freshClampWindow bounds how long a never-accessed cell is treated as
// brand new: within this window of its creation, activation floors at 0
// instead of going negative before it's ever had a chance to be read.
const freshClampWindow = time.Hour

// Activation computes A for a cell at time `now`.
func Activation(c *memory.Cell, now time.Time) float64 {
	switch c.Type {
	case memory.TypeCore:
		return 10
	case memory.TypeProcedural:
		return 5
	}
	cv, ok := urgencyCurve[c.Urgency]
	if !ok {
		cv = urgencyCurve[memory.UrgencyReference]
	}

	accesses := c.AccessTimes
	if len(accesses) == 0 {
		if c.CreatedAt.IsZero() {
			return 0
		}
		accesses = []time.Time{c.CreatedAt}
	}

	sum := 0.0
	for _, t := range accesses {
		hours := now.Sub(t).Hours()
		if hours < minHoursSinceAccess {
			hours = minHoursSinceAccess
		}
		sum += math.Pow(hours, -cv.d)
	}
	a := math.Log(sum) + cv.beta
	if len(c.AccessTimes) == 0 && now.Sub(c.CreatedAt) < freshClampWindow {
		if a < 0 {
			a = 0
		}
	}
	return a
}

// StatusOf classifies activation into active/forgotten/archive.
func StatusOf(a float64) Status {
	switch {
	case a >= -2:
		return memory.StatusActive
	case a >= -4:
		return memory.StatusForgotten
	default:
		return memory.StatusArchive
	}
}

// Normalize maps activation in [-4,+3] to [0,1], clamped at the bounds, for
// the optional ranking blend.
func Normalize(a float64) float64 {
	const lo, hi = -4.0, 3.0
	if a < lo {
		a = lo
	}
	if a > hi {
		a = hi
	}
	return (a - lo) / (hi - lo)
}

// Blend combines a semantic score with normalized activation:
// 0.8*semantic + 0.2*normalize(A).
func Blend(semantic, a float64) float64 {
	return 0.8*semantic + 0.2*Normalize(a)
}
