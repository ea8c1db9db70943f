package service

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bookshelf-api/internal/model"
)

// ErrNotFound is returned when a requested or referenced entity does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError reports bad client input for one field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

var errNoFields = &ValidationError{Message: "no fields provided to update"}

// requiredString trims s and rejects empty values.
func requiredString(field string, s *string) (string, error) {
	if s == nil {
		return "", invalid(field, "is required")
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return "", invalid(field, "must not be empty")
	}
	return v, nil
}

// validDate checks an MM/DD/YYYY date, including month lengths and leap years.
func validDate(field, s string) (string, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, "/")
	if len(s) != 10 || len(parts) != 3 || len(parts[0]) != 2 || len(parts[1]) != 2 || len(parts[2]) != 4 {
		return "", invalid(field, "must be formatted MM/DD/YYYY")
	}

	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return "", invalid(field, "must be formatted MM/DD/YYYY")
		}
		nums[i] = n
	}
	month, day, year := nums[0], nums[1], nums[2]

	if month < 1 || month > 12 || day < 1 || day > daysIn(month, year) {
		return "", invalid(field, "date %q does not exist", s)
	}
	return s, nil
}

func daysIn(month, year int) int {
	switch month {
	case 2:
		if year%4 == 0 && (year%100 != 0 || year%400 == 0) {
			return 29
		}
		return 28
	case 4, 6, 9, 11:
		return 30
	}
	return 31
}

// validYear accepts 0 < y <= now+5.
func validYear(field string, y int, now time.Time) error {
	if y <= 0 || y > now.Year()+5 {
		return invalid(field, "must be between 1 and %d", now.Year()+5)
	}
	return nil
}

// validGenre upper-cases g and checks it against the genre list.
func validGenre(g string) (string, error) {
	g = strings.ToUpper(strings.TrimSpace(g))
	if !model.IsGenre(g) {
		return "", invalid(model.FieldGenre, "must be one of %s", strings.Join(model.Genres, ", "))
	}
	return g, nil
}

// validSearchTerm trims term and rejects empty searches.
func validSearchTerm(term string) (string, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return "", invalid("q", "cannot search with an empty string")
	}
	return term, nil
}
