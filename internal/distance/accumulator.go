// Package distance maintains a per-day running total of walked meters
// from consecutive location fixes, with noise rejection for GPS jumps.
package distance

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/fencewatch/internal/location"
	"git.home.luguber.info/inful/fencewatch/internal/logfields"
	"git.home.luguber.info/inful/fencewatch/internal/statestore"
)

const (
	// MaxDeltaM is the largest plausible single-step displacement. A jump
	// of 100 m or more between consecutive fixes is a sensor artifact.
	MaxDeltaM = 100.0

	// MaxSpeedMS rejects deltas implying faster than 180 km/h.
	MaxSpeedMS = 50.0
)

// DateFormat is the local calendar-day key for a distance record.
const DateFormat = "2006-01-02"

// Accumulator folds fixes into the day's cumulative distance. It keeps no
// authoritative state of its own; the persisted record is the truth and is
// re-read on every fix so that both producers can feed it.
type Accumulator struct {
	store  *statestore.Store
	logger *slog.Logger
	loc    *time.Location
}

func NewAccumulator(store *statestore.Store, logger *slog.Logger) *Accumulator {
	return &Accumulator{
		store:  store,
		logger: logger.With(slog.String("component", "distance")),
		loc:    time.Local,
	}
}

// WithLocation overrides the timezone used to derive the local calendar
// day. Intended for tests.
func (a *Accumulator) WithLocation(loc *time.Location) *Accumulator {
	a.loc = loc
	return a
}

// Account folds one fix into today's record and returns the updated record.
//
// A fresh day (no record, or a record dated before today) starts at zero
// with the fix as reference point, never carrying over the prior day's
// remainder. Noise-rejected deltas leave both the total and the reference
// point untouched.
func (a *Accumulator) Account(ctx context.Context, fix location.Fix) (statestore.DailyDistanceRecord, error) {
	today := fix.Timestamp.In(a.loc).Format(DateFormat)

	rec, err := a.store.DailyDistance(ctx)
	if err != nil && !errors.Is(err, statestore.ErrNotFound) {
		return statestore.DailyDistanceRecord{}, err
	}

	// A record zeroed by Rollover has today's date but no reference point
	// yet; the first fix of the day establishes one.
	if errors.Is(err, statestore.ErrNotFound) || rec.Date != today || rec.LastFixTime.IsZero() {
		rec = statestore.DailyDistanceRecord{
			Date:          today,
			LastLatitude:  fix.Latitude,
			LastLongitude: fix.Longitude,
			LastFixTime:   fix.Timestamp,
		}
		if err := a.store.SetDailyDistance(ctx, rec); err != nil {
			return statestore.DailyDistanceRecord{}, err
		}
		return rec, nil
	}

	delta := location.Haversine(rec.LastLatitude, rec.LastLongitude, fix.Latitude, fix.Longitude)
	elapsed := fix.Timestamp.Sub(rec.LastFixTime).Seconds()

	if rejected, speed := a.reject(delta, elapsed); rejected {
		a.logger.Debug("rejected noisy distance delta",
			logfields.DistanceM(delta),
			logfields.SpeedMS(speed))
		return rec, nil
	}

	rec.CumulativeMeters += delta
	rec.LastLatitude = fix.Latitude
	rec.LastLongitude = fix.Longitude
	rec.LastFixTime = fix.Timestamp

	if err := a.store.SetDailyDistance(ctx, rec); err != nil {
		return statestore.DailyDistanceRecord{}, err
	}
	return rec, nil
}

// Rollover zeroes the record when the local day has advanced past the
// record's date. Called from the periodic midnight poll so the UI figure
// resets even when no fix arrives for hours after midnight.
func (a *Accumulator) Rollover(ctx context.Context, now time.Time) error {
	today := now.In(a.loc).Format(DateFormat)

	rec, err := a.store.DailyDistance(ctx)
	if errors.Is(err, statestore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if rec.Date == today {
		return nil
	}

	a.logger.Info("rolling daily distance over to new day",
		slog.String("previous_date", rec.Date),
		slog.String("date", today),
		logfields.DistanceM(rec.CumulativeMeters))

	return a.store.SetDailyDistance(ctx, statestore.DailyDistanceRecord{Date: today})
}

// reject applies the noise filter: a jump of MaxDeltaM or more, or an
// implied speed above MaxSpeedMS, is discarded. Non-positive elapsed time
// (clock skew, duplicate timestamps) is treated as infinitely fast.
func (a *Accumulator) reject(deltaM, elapsedSec float64) (bool, float64) {
	if deltaM >= MaxDeltaM {
		return true, 0
	}
	if elapsedSec <= 0 {
		return deltaM > 0, 0
	}
	speed := deltaM / elapsedSec
	return deltaM > MaxSpeedMS*elapsedSec, speed
}
