package cron

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidCron is returned when an expression does not have exactly 5
// space-separated fields or is otherwise unparsable.
var ErrInvalidCron = errors.New("invalid cron expression")

var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Validate rejects anything but a standard 5-field cron expression.
func Validate(expr string) error {
	if n := len(strings.Fields(expr)); n != 5 {
		return fmt.Errorf("%w: expected 5 fields, got %d", ErrInvalidCron, n)
	}
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCron, err)
	}
	return nil
}

// Next computes the next occurrence strictly after 'after'. Monotonicity
// is guaranteed by robfig/cron/v3's schedule
// evaluator, which always returns a time strictly greater than its input.
func Next(expr string, after time.Time) (time.Time, error) {
	schedule, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidCron, err)
	}
	return schedule.Next(after), nil
}
