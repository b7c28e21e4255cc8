package holiday

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 0, 0, 0, time.UTC)
}

func TestWeekends(t *testing.T) {
	if !IsNonWorkingDay(date(2026, time.March, 7)) { // Saturday
		t.Error("Saturday should be non-working")
	}
	if !IsNonWorkingDay(date(2026, time.March, 8)) { // Sunday
		t.Error("Sunday should be non-working")
	}
	if IsNonWorkingDay(date(2026, time.March, 9)) { // Monday
		t.Error("plain Monday should be working")
	}
}

func TestFixedHolidays(t *testing.T) {
	cases := []struct {
		day  time.Time
		name string
	}{
		{date(2026, time.January, 1), "Año Nuevo"},
		{date(2026, time.May, 17), "Día das Letras Galegas"},
		{date(2026, time.July, 25), "Santiago Apóstol"},
		{date(2026, time.December, 25), "Navidad"},
	}
	for _, tc := range cases {
		name, ok := HolidayName(tc.day)
		if !ok || name != tc.name {
			t.Errorf("%s: got (%q, %v), want %q", tc.day.Format("2006-01-02"), name, ok, tc.name)
		}
		if !IsNonWorkingDay(tc.day) {
			t.Errorf("%s should be non-working", tc.day.Format("2006-01-02"))
		}
	}
}

func TestEasterSunday(t *testing.T) {
	cases := map[int]time.Time{
		2024: time.Date(2024, time.March, 31, 0, 0, 0, 0, time.UTC),
		2025: time.Date(2025, time.April, 20, 0, 0, 0, 0, time.UTC),
		2026: time.Date(2026, time.April, 5, 0, 0, 0, 0, time.UTC),
		2027: time.Date(2027, time.March, 28, 0, 0, 0, 0, time.UTC),
	}
	for year, want := range cases {
		if got := easterSunday(year); !got.Equal(want) {
			t.Errorf("easter %d: got %v, want %v", year, got, want)
		}
	}
}

func TestHolyWeekDays(t *testing.T) {
	// Easter 2026 is April 5, so Jueves Santo is April 2 and Viernes
	// Santo April 3.
	if name, ok := HolidayName(date(2026, time.April, 2)); !ok || name != "Jueves Santo" {
		t.Errorf("April 2 2026: got (%q, %v)", name, ok)
	}
	if name, ok := HolidayName(date(2026, time.April, 3)); !ok || name != "Viernes Santo" {
		t.Errorf("April 3 2026: got (%q, %v)", name, ok)
	}
	if _, ok := HolidayName(date(2026, time.April, 7)); ok {
		t.Error("Tuesday after Easter should not be a holiday")
	}
}
