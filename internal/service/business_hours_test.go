package service_test

import (
	"testing"
	"time"

	"github.com/leadflow/leadflow-backend/internal/model"
	"github.com/leadflow/leadflow-backend/internal/service"
)

var weekSchedule = model.SendingSchedule{
	"segunda": "09:00-18:00",
	"terca":   "09:00-18:00",
	"quarta":  "09:00-18:00",
	"quinta":  "09:00-18:00",
	"sexta":   "09:00-18:00",
	"sabado":  "09:00-13:00",
	"domingo": "closed",
}

// 2026-08-30 is a Sunday.
func date(day, hour, min int) time.Time {
	return time.Date(2026, 8, day, hour, min, 0, 0, time.UTC)
}

func TestIsWithinBusinessHours(t *testing.T) {
	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"monday mid-morning", date(31, 10, 0), true},
		{"monday at open", date(31, 9, 0), true},
		{"monday before open", date(31, 8, 59), false},
		{"monday at close is exclusive", date(31, 18, 0), false},
		{"monday just before close", date(31, 17, 59), true},
		{"sunday closed", date(30, 10, 0), false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := service.IsWithinBusinessHours(weekSchedule, c.at)
			if got != c.want {
				t.Errorf("IsWithinBusinessHours(%v) = %v, want %v", c.at, got, c.want)
			}
		})
	}
}

func TestIsWithinBusinessHoursAccentedNames(t *testing.T) {
	schedule := model.SendingSchedule{
		"terça":  "08:00-12:00",
		"sábado": "closed",
	}

	// 2026-09-01 is a Tuesday.
	tuesday := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	if !service.IsWithinBusinessHours(schedule, tuesday) {
		t.Error("expected accented terça window to match Tuesday morning")
	}

	saturday := time.Date(2026, 9, 5, 9, 0, 0, 0, time.UTC)
	if service.IsWithinBusinessHours(schedule, saturday) {
		t.Error("expected accented sábado closed to reject Saturday")
	}
}

func TestNextValidSlot(t *testing.T) {
	cases := []struct {
		name string
		from time.Time
		want time.Time
	}{
		{"inside window returns input", date(31, 10, 30), date(31, 10, 30)},
		{"before open clamps to open", date(31, 7, 15), date(31, 9, 0)},
		{"after close rolls to next day", date(31, 19, 0), time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)},
		{"sunday rolls to monday open", date(30, 10, 0), date(31, 9, 0)},
		{"saturday afternoon rolls past sunday", date(29, 15, 0), date(31, 9, 0)},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := service.NextValidSlot(weekSchedule, c.from)
			if !got.Equal(c.want) {
				t.Errorf("NextValidSlot(%v) = %v, want %v", c.from, got, c.want)
			}
		})
	}
}

func TestNextValidSlotAllClosedReturnsInput(t *testing.T) {
	closed := model.SendingSchedule{}
	for _, day := range []string{"domingo", "segunda", "terca", "quarta", "quinta", "sexta", "sabado"} {
		closed[day] = "closed"
	}

	from := date(31, 10, 0)
	got := service.NextValidSlot(closed, from)
	if !got.Equal(from) {
		t.Errorf("all-closed schedule should return the input unchanged, got %v", got)
	}
}

func TestNextValidSlotMalformedWindowTreatedAsClosed(t *testing.T) {
	schedule := model.SendingSchedule{
		"segunda": "9h-18h",
		"terca":   "09:00-18:00",
	}

	// Monday morning with a malformed Monday window lands on Tuesday open.
	got := service.NextValidSlot(schedule, date(31, 10, 0))
	want := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("NextValidSlot = %v, want %v", got, want)
	}

	if service.IsWithinBusinessHours(schedule, date(31, 10, 0)) {
		t.Error("malformed window should never match")
	}
}
