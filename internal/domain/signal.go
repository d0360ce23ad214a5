package domain

import (
	"time"
)

// Strength grades how aggressively a signal should be sized.
type Strength string

const (
	StrengthWeak     Strength = "WEAK"
	StrengthModerate Strength = "MODERATE"
	StrengthStrong   Strength = "STRONG"
)

// StrengthFromConfidence buckets a 0..1 confidence into a sizing strength.
func StrengthFromConfidence(confidence float64) Strength {
	switch {
	case confidence > 0.75:
		return StrengthStrong
	case confidence > 0.5:
		return StrengthModerate
	default:
		return StrengthWeak
	}
}

// Signal is an ephemeral trading recommendation. Signals are never mutated,
// only consumed.
type Signal struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Market     Market    `json:"market"`
	Action     Action    `json:"action"`
	Strength   Strength  `json:"strength"`
	Confidence float64   `json:"confidence"` // 0..1
	Source     string    `json:"source"`
	At         time.Time `json:"at"`
}
