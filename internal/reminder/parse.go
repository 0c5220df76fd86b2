package reminder

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/pkg/errors"
)

var (
	ErrUnparseableTime = errors.New("could not parse time")
	ErrEmptyBody       = errors.New("reminder text is empty")
)

const (
	kwIn       = "через"
	kwTomorrow = "завтра"
	kwAt       = "в"

	clockLayout = "15:04"
	fullLayout  = "2006-01-02 15:04"
)

var (
	digitRun = regexp.MustCompile(`\d+`)
	dateOnly = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// Parse turns a time expression into an absolute moment in now's location.
//
// Recognised forms, checked in this order:
//
//	через N минут|часов|дней   now + N units
//	HH:MM                      today, or tomorrow if not strictly after now
//	YYYY-MM-DD HH:MM           that exact moment
//	завтра [в] HH:MM           tomorrow at HH:MM
func Parse(expr string, now time.Time) (time.Time, error) {
	expr = strings.ToLower(strings.Join(strings.Fields(expr), " "))
	loc := now.Location()

	if strings.HasPrefix(expr, kwIn) {
		return parseRelative(expr, now)
	}

	if strings.Contains(expr, ":") {
		if len(expr) == len(clockLayout) {
			if t, err := time.ParseInLocation(clockLayout, expr, loc); err == nil {
				due := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, loc)
				if !due.After(now) {
					due = due.AddDate(0, 0, 1)
				}
				return due, nil
			}
		} else if t, err := time.ParseInLocation(fullLayout, expr, loc); err == nil {
			return t, nil
		}
	}

	if strings.HasPrefix(expr, kwTomorrow) {
		rest := strings.TrimSpace(strings.TrimPrefix(expr, kwTomorrow))
		rest = strings.TrimSpace(strings.TrimPrefix(rest, kwAt+" "))
		t, err := time.ParseInLocation(clockLayout, rest, loc)
		if err != nil {
			return time.Time{}, ErrUnparseableTime
		}
		return time.Date(now.Year(), now.Month(), now.Day()+1, t.Hour(), t.Minute(), 0, 0, loc), nil
	}

	return time.Time{}, ErrUnparseableTime
}

func parseRelative(expr string, now time.Time) (time.Time, error) {
	parts := strings.Fields(expr)
	if len(parts) < 2 {
		return time.Time{}, ErrUnparseableTime
	}

	run := digitRun.FindString(parts[1])
	if run == "" {
		return time.Time{}, errors.Wrap(ErrUnparseableTime, "no number after "+kwIn)
	}
	n, err := strconv.Atoi(run)
	if err != nil {
		return time.Time{}, errors.Wrap(ErrUnparseableTime, err.Error())
	}

	unit := strings.Join(parts[1:], " ")
	switch {
	case strings.Contains(unit, "минут"):
		if n > int(maxRelative/time.Minute) {
			return time.Time{}, errTooFar
		}
		return now.Add(time.Duration(n) * time.Minute), nil
	case strings.Contains(unit, "час"):
		if n > int(maxRelative/time.Hour) {
			return time.Time{}, errTooFar
		}
		return now.Add(time.Duration(n) * time.Hour), nil
	case strings.Contains(unit, "день"), strings.Contains(unit, "дня"), strings.Contains(unit, "дней"):
		if n > int(maxRelative/(24*time.Hour)) {
			return time.Time{}, errTooFar
		}
		return now.AddDate(0, 0, n), nil
	}
	return time.Time{}, errors.Wrap(ErrUnparseableTime, "unknown unit")
}

// maxRelative is the furthest offset a relative expression may name.
const maxRelative = 10 * 365 * 24 * time.Hour

var errTooFar = errors.Wrap(ErrUnparseableTime, "offset too large")

// Split separates the leading time expression of a command argument from
// the text that follows it.
func Split(args string) (expr, body string, err error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "", "", ErrUnparseableTime
	}

	n := exprLen(fields)
	if n == 0 || len(fields) < n {
		return "", "", ErrUnparseableTime
	}
	if len(fields) == n {
		return strings.Join(fields, " "), "", ErrEmptyBody
	}
	return strings.Join(fields[:n], " "), strings.Join(fields[n:], " "), nil
}

// exprLen reports how many leading fields form the time expression, 0 if none.
func exprLen(fields []string) int {
	first := strings.ToLower(fields[0])
	switch {
	case first == kwIn:
		if len(fields) > 1 && hasDigitAndLetter(fields[1]) {
			return 2
		}
		return 3
	case first == kwTomorrow:
		if len(fields) > 1 && strings.ToLower(fields[1]) == kwAt {
			return 3
		}
		return 2
	case dateOnly.MatchString(first):
		if len(fields) > 1 && strings.Contains(fields[1], ":") {
			return 2
		}
		return 0
	case strings.Contains(first, ":"):
		return 1
	}
	return 0
}

func hasDigitAndLetter(s string) bool {
	var digit, letter bool
	for _, r := range s {
		digit = digit || unicode.IsDigit(r)
		letter = letter || unicode.IsLetter(r)
	}
	return digit && letter
}
