package domain

import (
	"errors"
	"fmt"
	"time"
)

type Granularity string

const (
	GranularityHour  Granularity = "hour"
	GranularityDay   Granularity = "day"
	GranularityMonth Granularity = "month"
)

var ErrInvalidPeriod = errors.New("invalid period")

var periodLayouts = map[Granularity]string{
	GranularityHour:  "2006-01-02T15",
	GranularityDay:   "2006-01-02",
	GranularityMonth: "2006-01",
}

// Period é um bucket de calendário (UTC) contra o qual um contador é medido.
type Period struct {
	Granularity Granularity
	Label       string
}

func PeriodOf(g Granularity, t time.Time) Period {
	layout, ok := periodLayouts[g]
	if !ok {
		layout = periodLayouts[GranularityMonth]
		g = GranularityMonth
	}
	return Period{Granularity: g, Label: t.UTC().Format(layout)}
}

func HourOf(t time.Time) Period  { return PeriodOf(GranularityHour, t) }
func DayOf(t time.Time) Period   { return PeriodOf(GranularityDay, t) }
func MonthOf(t time.Time) Period { return PeriodOf(GranularityMonth, t) }

// ParsePeriod reconstrói um Period a partir do label, inferindo a granularidade pelo formato.
func ParsePeriod(label string) (Period, error) {
	for _, g := range []Granularity{GranularityHour, GranularityDay, GranularityMonth} {
		if _, err := time.Parse(periodLayouts[g], label); err == nil {
			return Period{Granularity: g, Label: label}, nil
		}
	}
	return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, label)
}

// Retention é por quanto tempo um bucket precisa sobreviver para as checagens de volume.
// Zero significa sem expiração (buckets mensais são o registro de cobrança).
func (p Period) Retention() time.Duration {
	switch p.Granularity {
	case GranularityHour:
		return 2 * time.Hour
	case GranularityDay:
		return 48 * time.Hour
	}
	return 0
}

func (p Period) String() string { return p.Label }

// Start é o instante (UTC) em que o bucket começa.
func (p Period) Start() (time.Time, error) {
	layout, ok := periodLayouts[p.Granularity]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: granularity %q", ErrInvalidPeriod, p.Granularity)
	}
	t, err := time.Parse(layout, p.Label)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, p.Label)
	}
	return t, nil
}

// End é o início do bucket seguinte.
func (p Period) End() (time.Time, error) {
	start, err := p.Start()
	if err != nil {
		return time.Time{}, err
	}
	switch p.Granularity {
	case GranularityHour:
		return start.Add(time.Hour), nil
	case GranularityDay:
		return start.AddDate(0, 0, 1), nil
	}
	return start.AddDate(0, 1, 0), nil
}

// Expired indica se o bucket já passou da retenção em now. Buckets sem
// retenção nunca expiram.
func (p Period) Expired(now time.Time) bool {
	ret := p.Retention()
	if ret <= 0 {
		return false
	}
	end, err := p.End()
	if err != nil {
		return false
	}
	return !now.Before(end.Add(ret))
}
