package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sankalp/internal/models"
)

func TestNextRunAtOneShot(t *testing.T) {
	from := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)

	assert.Nil(t, NextRunAt(models.Recurrence{}, from))
	assert.Nil(t, NextRunAt(models.Recurrence{Frequency: "none"}, from))
	assert.Nil(t, NextRunAt(models.Recurrence{Frequency: "custom"}, from))
}

func TestNextRunAtIntervals(t *testing.T) {
	from := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)

	next := NextRunAt(models.Recurrence{Frequency: "custom", CustomMinutes: 45}, from)
	require.NotNil(t, next)
	assert.Equal(t, from.Add(45*time.Minute), *next)

	next = NextRunAt(models.Recurrence{Frequency: "daily", Interval: 3}, from)
	require.NotNil(t, next)
	assert.Equal(t, from.Add(3*24*time.Hour), *next)

	next = NextRunAt(models.Recurrence{Frequency: "weekly"}, from)
	require.NotNil(t, next)
	assert.Equal(t, from.Add(7*24*time.Hour), *next)

	next = NextRunAt(models.Recurrence{Frequency: "monthly", Interval: 2}, from)
	require.NotNil(t, next)
	assert.Equal(t, from.AddDate(0, 2, 0), *next)

	next = NextRunAt(models.Recurrence{Frequency: "yearly"}, from)
	require.NotNil(t, next)
	assert.Equal(t, from.AddDate(1, 0, 0), *next)
}

func TestNextRunAtWeeklyWithWeekdays(t *testing.T) {
	// 2026-08-28 is a Friday.
	from := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)

	// Next Monday (1) is three days out.
	next := NextRunAt(models.Recurrence{Frequency: "weekly", Weekdays: []int{1}}, from)
	require.NotNil(t, next)
	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, from.Add(3*24*time.Hour), *next)

	// Same weekday requested: a full week out, never the same day.
	next = NextRunAt(models.Recurrence{Frequency: "weekly", Weekdays: []int{5}}, from)
	require.NotNil(t, next)
	assert.Equal(t, from.Add(7*24*time.Hour), *next)
}
