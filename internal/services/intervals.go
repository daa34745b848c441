package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/jinzhu/now"
	"github.com/trobanga/oaiharvest/internal/models"
)

// DefaultMetadataPrefix is used when a list harvest names no format
const DefaultMetadataPrefix = "oai_dc"

const oneDay = 24 * time.Hour

// ErrInvalidDateRange is returned for a window whose from lies after until
var ErrInvalidDateRange = errors.New("invalid date range")

// calendar starts weeks on Monday
var calendar = &now.Config{WeekStartDay: time.Monday}

// Window is a span of time, from and until inclusive
type Window struct {
	From  time.Time
	Until time.Time
}

type timeShiftFunc func(time.Time) time.Time

// Split cuts the window into consecutive windows aligned to the given period
// ("daily", "weekly", "monthly"). "" and "none" return the window itself.
func (w Window) Split(period string) ([]Window, error) {
	switch period {
	case "", "none":
		if w.From.After(w.Until) {
			return nil, ErrInvalidDateRange
		}
		return []Window{w}, nil
	case "daily":
		return w.Daily()
	case "weekly":
		return w.Weekly()
	case "monthly":
		return w.Monthly()
	default:
		return nil, fmt.Errorf("unknown window %q", period)
	}
}

// Daily returns one window per calendar day
func (w Window) Daily() ([]Window, error) {
	return w.makeWindows(
		func(t time.Time) time.Time { return calendar.With(t).BeginningOfDay() },
		func(t time.Time) time.Time { return calendar.With(t).EndOfDay() },
	)
}

// Weekly returns one window per calendar week
func (w Window) Weekly() ([]Window, error) {
	return w.makeWindows(
		func(t time.Time) time.Time { return calendar.With(t).BeginningOfWeek() },
		func(t time.Time) time.Time { return calendar.With(t).EndOfWeek() },
	)
}

// Monthly returns one window per calendar month
func (w Window) Monthly() ([]Window, error) {
	return w.makeWindows(
		func(t time.Time) time.Time { return calendar.With(t).BeginningOfMonth() },
		func(t time.Time) time.Time { return calendar.With(t).EndOfMonth() },
	)
}

// makeWindows walks from From to Until. The first window starts at From
// itself and the last one is clipped to the end of Until's day.
func (w Window) makeWindows(left, right timeShiftFunc) ([]Window, error) {
	if w.From.After(w.Until) {
		return nil, ErrInvalidDateRange
	}

	var ws []Window
	from := w.From
	for {
		start := left(from)
		if len(ws) == 0 {
			start = calendar.With(w.From).BeginningOfDay()
		}
		end := right(from)
		if !end.Before(w.Until) {
			ws = append(ws, Window{From: start, Until: calendar.With(w.Until).EndOfDay()})
			break
		}
		ws = append(ws, Window{From: start, Until: end})
		from = end.Add(oneDay)
	}
	return ws, nil
}

// ExpandRepository builds the harvest parameter sets of one configured
// repository: one set, or one per window when a window period is given.
func ExpandRepository(repo models.RepositoryConfig) ([]models.HarvestParams, error) {
	verb := models.Verb(repo.Verb)
	if verb == "" {
		verb = models.VerbListRecords
	}

	args := map[string]string{
		models.ParamSet:        repo.Set,
		models.ParamIdentifier: repo.Identifier,
	}
	if verb.AllowsArgument(models.ParamMetadataPrefix) {
		prefix := repo.MetadataPrefix
		if prefix == "" {
			prefix = DefaultMetadataPrefix
		}
		args[models.ParamMetadataPrefix] = prefix
	}

	base, err := models.NewHarvestParams(repo.BaseURL, verb, args)
	if err != nil {
		return nil, err
	}

	from, err := parseDay(repo.From)
	if err != nil {
		return nil, fmt.Errorf("invalid from: %w", err)
	}
	until, err := parseDay(repo.Until)
	if err != nil {
		return nil, fmt.Errorf("invalid until: %w", err)
	}

	if (!from.IsZero() || !until.IsZero()) && !verb.AllowsArgument(models.ParamFrom) {
		return nil, fmt.Errorf("verb %s takes no from/until range", verb)
	}

	if from.IsZero() || until.IsZero() {
		if !from.IsZero() {
			base = base.WithFrom(from)
		}
		if !until.IsZero() {
			base = base.WithUntil(until)
		}
		if err := base.Validate(); err != nil {
			return nil, err
		}
		return []models.HarvestParams{base}, nil
	}

	windows, err := Window{From: from, Until: until}.Split(repo.Window)
	if err != nil {
		return nil, err
	}

	params := make([]models.HarvestParams, 0, len(windows))
	for _, w := range windows {
		p := base.WithFrom(w.From).WithUntil(w.Until)
		if err := p.Validate(); err != nil {
			return nil, err
		}
		params = append(params, p)
	}
	return params, nil
}

func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.DateOnly, s)
}
