// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package playback

import "time"

// Pacing defaults.
const (
	DefaultBaseDelay      = 25 * time.Millisecond
	DefaultMinDelay       = 5 * time.Millisecond
	DefaultShortThreshold = 50
)

// Pacing is the adaptive reveal speed curve.
//
// Messages shorter than ShortThreshold characters reveal at a constant Base
// delay. Longer ones accelerate from 1x to 10x as playback progresses:
//
//	delay = max(Base / (1 + 9p²), Floor)   where p = emitted / total
type Pacing struct {
	Base           time.Duration
	Floor          time.Duration
	ShortThreshold int
}

// DefaultPacing returns the curve used for a typing speed of 40 chars/sec.
func DefaultPacing() Pacing {
	return Pacing{Base: DefaultBaseDelay, Floor: DefaultMinDelay, ShortThreshold: DefaultShortThreshold}
}

// PacingForSpeed returns DefaultPacing with Base derived from a typing speed
// in characters per second. Non-positive speeds keep the default base.
func PacingForSpeed(charsPerSecond int) Pacing {
	p := DefaultPacing()
	if charsPerSecond > 0 {
		p.Base = time.Second / time.Duration(charsPerSecond)
	}
	return p
}

// Delay returns the pause after the emitted-th character of a run whose
// queue held total characters when it started.
func (p Pacing) Delay(emitted, total int) time.Duration {
	if total < p.ShortThreshold || total <= 0 {
		return p.Base
	}
	progress := float64(emitted) / float64(total)
	d := time.Duration(float64(p.Base) / (1 + 9*progress*progress))
	if d < p.Floor {
		return p.Floor
	}
	return d
}
