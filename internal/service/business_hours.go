// internal/service/business_hours.go
package service

import (
    "strconv"
    "strings"
    "time"

    "github.com/leadflow/leadflow-backend/internal/model"
)

// Weekday names as tenants write them in sending_schedule. Indexed by
// time.Weekday (Sunday = 0).
var weekdayNames = [7]string{
    "domingo", "segunda", "terca", "quarta", "quinta", "sexta", "sabado",
}

// Accented spellings some tenants use for the same days.
var weekdayAliases = map[string]string{
    "terca":  "terça",
    "sabado": "sábado",
}

const closedWindow = "closed"

type window struct {
    startHour, startMin int
    endHour, endMin     int
}

// IsWithinBusinessHours reports whether the instant falls inside the
// schedule's window for that weekday. The window is [start, end); "closed",
// a missing day or a malformed range never match.
func IsWithinBusinessHours(schedule model.SendingSchedule, t time.Time) bool {
    w, open := windowForDay(schedule, t.Weekday())
    if !open {
        return false
    }
    minute := t.Hour()*60 + t.Minute()
    return minute >= w.startMinutes() && minute < w.endMinutes()
}

// NextValidSlot returns the earliest instant at or after from that the
// schedule permits. Scans up to 7 days ahead; if every day is closed the
// input is returned unchanged (known gap: an all-closed schedule makes the
// caller re-fire immediately).
func NextValidSlot(schedule model.SendingSchedule, from time.Time) time.Time {
    for offset := 0; offset <= 7; offset++ {
        day := from.AddDate(0, 0, offset)
        w, open := windowForDay(schedule, day.Weekday())
        if !open {
            continue
        }

        start := time.Date(day.Year(), day.Month(), day.Day(), w.startHour, w.startMin, 0, 0, from.Location())
        if offset > 0 {
            return start
        }

        minute := from.Hour()*60 + from.Minute()
        switch {
        case minute < w.startMinutes():
            return start
        case minute < w.endMinutes():
            return from
        }
        // Past today's window, keep scanning.
    }
    return from
}

func (w window) startMinutes() int { return w.startHour*60 + w.startMin }
func (w window) endMinutes() int   { return w.endHour*60 + w.endMin }

func windowForDay(schedule model.SendingSchedule, day time.Weekday) (window, bool) {
    name := weekdayNames[day]
    raw, ok := schedule[name]
    if !ok {
        if alias, has := weekdayAliases[name]; has {
            raw, ok = schedule[alias]
        }
    }
    if !ok {
        return window{}, false
    }
    return parseWindow(raw)
}

// parseWindow parses "HH:MM-HH:MM". Anything else ("closed" included) is a
// closed day.
func parseWindow(raw string) (window, bool) {
    raw = strings.TrimSpace(strings.ToLower(raw))
    if raw == "" || raw == closedWindow {
        return window{}, false
    }

    parts := strings.SplitN(raw, "-", 2)
    if len(parts) != 2 {
        return window{}, false
    }

    var w window
    var ok bool
    if w.startHour, w.startMin, ok = parseClock(parts[0]); !ok {
        return window{}, false
    }
    if w.endHour, w.endMin, ok = parseClock(parts[1]); !ok {
        return window{}, false
    }
    if w.endMinutes() <= w.startMinutes() {
        return window{}, false
    }
    return w, true
}

func parseClock(raw string) (int, int, bool) {
    parts := strings.SplitN(strings.TrimSpace(raw), ":", 2)
    if len(parts) != 2 {
        return 0, 0, false
    }
    hour, err := strconv.Atoi(parts[0])
    if err != nil || hour < 0 || hour > 23 {
        return 0, 0, false
    }
    min, err := strconv.Atoi(parts[1])
    if err != nil || min < 0 || min > 59 {
        return 0, 0, false
    }
    return hour, min, true
}
