package domain

import (
	"time"
)

// Market identifies the exchange a symbol trades on.
type Market string

const (
	MarketKR Market = "KR"
	MarketUS Market = "US"
)

// Mode selects the execution path chosen once at startup.
type Mode string

const (
	ModeLive       Mode = "LIVE"
	ModeSimulation Mode = "SIMULATION"
)

// TradingHours holds the open/close window of one market in its local time zone.
type TradingHours struct {
	Open     string // "09:00"
	Close    string // "15:30"
	Location *time.Location
}

// Calendar answers the market-open predicate for every supported market.
// It is immutable after construction; loops share one instance.
type Calendar struct {
	hours map[Market]TradingHours
}

// NewCalendar builds a calendar from per-market trading hours.
func NewCalendar(hours map[Market]TradingHours) *Calendar {
	return &Calendar{hours: hours}
}

// DefaultCalendar returns KR 09:00-15:30 KST and US 09:30-16:00 ET.
func DefaultCalendar() *Calendar {
	kst, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		kst = time.FixedZone("KST", 9*3600)
	}
	est, err := time.LoadLocation("America/New_York")
	if err != nil {
		est = time.FixedZone("EST", -5*3600)
	}
	return NewCalendar(map[Market]TradingHours{
		MarketKR: {Open: "09:00", Close: "15:30", Location: kst},
		MarketUS: {Open: "09:30", Close: "16:00", Location: est},
	})
}

// Open reports whether the market is in its regular session at now.
// Weekends are closed; holidays are not modeled and resolve at the broker,
// which rejects the order.
func (c *Calendar) Open(m Market, now time.Time) bool {
	h, ok := c.hours[m]
	if !ok {
		return false
	}

	local := now.In(h.Location)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}

	cur := local.Hour()*60 + local.Minute()
	return cur >= parseClock(h.Open) && cur <= parseClock(h.Close)
}

// parseClock converts "HH:MM" to minutes since midnight. Malformed input
// returns 0, which Validate on the config surface prevents from reaching here.
func parseClock(s string) int {
	var hh, mm int
	if len(s) == 5 && s[2] == ':' {
		hh = int(s[0]-'0')*10 + int(s[1]-'0')
		mm = int(s[3]-'0')*10 + int(s[4]-'0')
	}
	return hh*60 + mm
}
