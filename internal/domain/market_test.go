package domain

import (
	"testing"
	"time"
)

func TestCalendar_Open(t *testing.T) {
	cal := DefaultCalendar()
	kst := time.FixedZone("KST", 9*3600)

	cases := []struct {
		name   string
		market Market
		at     time.Time
		want   bool
	}{
		// 2025-06-02 is a Monday
		{"KR mid session", MarketKR, time.Date(2025, 6, 2, 10, 30, 0, 0, kst), true},
		{"KR at open", MarketKR, time.Date(2025, 6, 2, 9, 0, 0, 0, kst), true},
		{"KR before open", MarketKR, time.Date(2025, 6, 2, 8, 59, 0, 0, kst), false},
		{"KR after close", MarketKR, time.Date(2025, 6, 2, 15, 31, 0, 0, kst), false},
		{"KR saturday", MarketKR, time.Date(2025, 6, 7, 10, 0, 0, 0, kst), false},
		// 23:00 KST Monday is 10:00 ET Monday (EDT, UTC-4)
		{"US open during KR night", MarketUS, time.Date(2025, 6, 2, 23, 0, 0, 0, kst), true},
		{"unknown market", Market("JP"), time.Date(2025, 6, 2, 10, 0, 0, 0, kst), false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := cal.Open(c.market, c.at); got != c.want {
				t.Errorf("Open(%s, %s) = %v, want %v", c.market, c.at, got, c.want)
			}
		})
	}
}

func TestStrengthFromConfidence(t *testing.T) {
	cases := []struct {
		confidence float64
		want       Strength
	}{
		{0.9, StrengthStrong},
		{0.76, StrengthStrong},
		{0.75, StrengthModerate},
		{0.6, StrengthModerate},
		{0.5, StrengthWeak},
		{0.1, StrengthWeak},
	}
	for _, c := range cases {
		if got := StrengthFromConfidence(c.confidence); got != c.want {
			t.Errorf("StrengthFromConfidence(%v) = %s, want %s", c.confidence, got, c.want)
		}
	}
}
