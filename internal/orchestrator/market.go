package orchestrator

import (
	"time"

	"signalengine/pkg/model"
)

// Schedule names a market's trading-hours window in its own local time zone.
type Schedule struct {
	Location              *time.Location
	OpenHour, OpenMin     int
	CloseHour, CloseMin   int
}

func mustLoad(name string, fallbackOffsetHours int) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone(name, fallbackOffsetHours*60*60)
	}
	return loc
}

// JPSchedule is JP = Mon-Fri, JST 09:00-15:00.
func JPSchedule() Schedule {
	return Schedule{Location: mustLoad("Asia/Tokyo", 9), OpenHour: 9, OpenMin: 0, CloseHour: 15, CloseMin: 0}
}

// USSchedule is US = Mon-Fri, EST 09:30-16:00.
func USSchedule() Schedule {
	return Schedule{Location: mustLoad("America/New_York", -5), OpenHour: 9, OpenMin: 30, CloseHour: 16, CloseMin: 0}
}

// IsOpen reports whether the given instant falls within the schedule's
// trading window, using simplified market-open predicates (no
// holiday calendar).
func (s Schedule) IsOpen(at time.Time) bool {
	local := at.In(s.Location)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	open := s.OpenHour*60 + s.OpenMin
	closeM := s.CloseHour*60 + s.CloseMin
	return minutes >= open && minutes < closeM
}

// AnyMarketOpen reports whether JP or US is currently in its trading
// window, the condition that triggers a 5-minute monitoring tick.
func AnyMarketOpen(at time.Time) bool {
	return JPSchedule().IsOpen(at) || USSchedule().IsOpen(at)
}

// marketFor returns the Market whose schedule is open at `at`, preferring
// JP when both are (which never happens given the two windows don't
// overlap, but keeps the function total).
func marketFor(at time.Time) (model.Market, bool) {
	if JPSchedule().IsOpen(at) {
		return model.MarketJP, true
	}
	if USSchedule().IsOpen(at) {
		return model.MarketUS, true
	}
	return "", false
}
