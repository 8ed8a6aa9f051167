// Package location screens reported coordinates for obvious fallbacks.
// It is advisory: a client can still submit arbitrary points.
package location

import (
	"math"

	"SafeCircle/pkg/errors"
)

// fallback coordinates reported by IP geolocation and simulators
const (
	fallbackLat = 37.785834
	fallbackLng = -122.406417

	fallbackExactBand = 0.0001
	fallbackLooseBand = 0.001
	nullIslandBand    = 0.001

	// accuracies above this are kept but flagged
	PoorAccuracyMeters = 1000.0
)

type Band string

const (
	BandNone  Band = ""
	BandExact Band = "exact"
	BandLoose Band = "loose"
)

// Verdict is the outcome of Validate. Reason is empty when Accepted.
type Verdict struct {
	Accepted bool
	Reason   string
	Band     Band
}

// Err converts a rejection into a Validation error, nil when accepted.
func (v Verdict) Err() error {
	if v.Accepted {
		return nil
	}
	msg := "invalid coordinates"
	switch v.Reason {
	case errors.ReasonNullIsland:
		msg = "coordinates look like a null island fallback"
	case errors.ReasonFallbackLocation:
		msg = "coordinates match a known geolocation fallback"
	case errors.ReasonOutOfRange:
		msg = "latitude must be within [-90, 90] and longitude within [-180, 180]"
	}
	return errors.Validation(v.Reason, msg)
}

func reject(reason string, band Band) Verdict {
	return Verdict{Reason: reason, Band: band}
}

func Validate(lat, lng float64) Verdict {
	if !finite(lat) || !finite(lng) || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return reject(errors.ReasonOutOfRange, BandNone)
	}
	if math.Abs(lat) < nullIslandBand && math.Abs(lng) < nullIslandBand {
		return reject(errors.ReasonNullIsland, BandNone)
	}
	dLat, dLng := math.Abs(lat-fallbackLat), math.Abs(lng-fallbackLng)
	if dLat < fallbackExactBand && dLng < fallbackExactBand {
		return reject(errors.ReasonFallbackLocation, BandExact)
	}
	if dLat < fallbackLooseBand && dLng < fallbackLooseBand {
		return reject(errors.ReasonFallbackLocation, BandLoose)
	}
	return Verdict{Accepted: true}
}

// Flagged reports a stated accuracy too coarse to trust. It never rejects.
func Flagged(accuracy *float64) bool {
	return accuracy != nil && *accuracy > PoorAccuracyMeters
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
