// Package holiday answers one question: is a given date a working day for
// an employee in Galicia? Weekends, Spanish national holidays, the Galician
// regional days and the movable Easter days all count as non-working.
package holiday

import "time"

type monthDay struct {
	month time.Month
	day   int
}

// Fixed-date holidays observed in Galicia: the national calendar plus the
// regional days (Letras Galegas, Santiago Apóstol, San José).
var fixed = map[monthDay]string{
	{time.January, 1}:   "Año Nuevo",
	{time.January, 6}:   "Epifanía del Señor",
	{time.March, 19}:    "San José",
	{time.May, 1}:       "Fiesta del Trabajo",
	{time.May, 17}:      "Día das Letras Galegas",
	{time.July, 25}:     "Santiago Apóstol",
	{time.August, 15}:   "Asunción de la Virgen",
	{time.October, 12}:  "Fiesta Nacional de España",
	{time.November, 1}:  "Todos los Santos",
	{time.December, 6}:  "Día de la Constitución",
	{time.December, 8}:  "Inmaculada Concepción",
	{time.December, 25}: "Navidad",
}

// IsNonWorkingDay reports whether t falls on a weekend or holiday. Only the
// civil date of t matters; pass it already in the configured zone.
func IsNonWorkingDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return true
	}
	_, holiday := HolidayName(t)
	return holiday
}

// HolidayName returns the holiday falling on t's date, if any.
func HolidayName(t time.Time) (string, bool) {
	if name, ok := fixed[monthDay{t.Month(), t.Day()}]; ok {
		return name, true
	}
	y, m, d := t.Date()
	easter := easterSunday(y)
	switch {
	case sameDate(easter.AddDate(0, 0, -3), m, d):
		return "Jueves Santo", true
	case sameDate(easter.AddDate(0, 0, -2), m, d):
		return "Viernes Santo", true
	}
	return "", false
}

func sameDate(t time.Time, m time.Month, d int) bool {
	return t.Month() == m && t.Day() == d
}

// easterSunday computes Gregorian Easter with the anonymous Gauss-style
// algorithm. Valid for any Gregorian year.
func easterSunday(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}
