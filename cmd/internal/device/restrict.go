package device

import (
	"fmt"
	"math"
	"time"

	"rollcall/cmd/internal/validate"
)

// Location is a client-reported position.
type Location struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

// GeoFence accepts positions within RadiusMeters of Center.
type GeoFence struct {
	Center       Location `json:"center"`
	RadiusMeters float64  `json:"radiusMeters" validate:"gt=0,lte=100000"`
}

const earthRadiusMeters = 6371008.8

// DistanceMeters returns the great-circle distance between a and b (haversine).
func DistanceMeters(a, b Location) float64 {
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := rad(b.Latitude - a.Latitude)
	dLon := rad(b.Longitude - a.Longitude)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(a.Latitude))*math.Cos(rad(b.Latitude))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Contains reports whether loc is inside the fence (boundary inclusive).
func (g GeoFence) Contains(loc Location) bool {
	return DistanceMeters(g.Center, loc) <= g.RadiusMeters
}

// TimeWindow accepts instants whose local time of day is in
// [StartMinute, EndMinute). EndMinute < StartMinute wraps past midnight.
// An empty Weekdays list allows every day; the weekday is taken at the
// instant itself, not at the window start.
type TimeWindow struct {
	StartMinute int            `json:"startMinute" validate:"gte=0,lt=1440"`
	EndMinute   int            `json:"endMinute" validate:"gte=0,lte=1440"`
	Weekdays    []time.Weekday `json:"weekdays,omitempty" validate:"dive,gte=0,lte=6"`
	Zone        *time.Location `json:"-" validate:"-"`
}

// Allows reports whether now falls inside the window.
func (w TimeWindow) Allows(now time.Time) bool {
	zone := w.Zone
	if zone == nil {
		zone = time.UTC
	}
	local := now.In(zone)

	if len(w.Weekdays) > 0 {
		ok := false
		for _, d := range w.Weekdays {
			if d == local.Weekday() {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}

	m := local.Hour()*60 + local.Minute()
	if w.StartMinute <= w.EndMinute {
		return m >= w.StartMinute && m < w.EndMinute
	}
	return m >= w.StartMinute || m < w.EndMinute
}

// Policy is a per-session scan restriction. The zero value allows everything.
type Policy struct {
	GeoFence        *GeoFence   `json:"geoFence,omitempty"`
	TimeWindow      *TimeWindow `json:"timeWindow,omitempty"`
	RequireLocation bool        `json:"requireLocation"`
}

// Validate checks the policy's ranges.
func (p Policy) Validate() error {
	if vs := validate.Struct(p); len(vs) > 0 {
		return fmt.Errorf("%w: %s: %s", ErrInvalidInput, vs[0].Field, vs[0].Rule)
	}
	return nil
}

// Check evaluates the policy for a scan at now from loc (nil when unknown).
func (p Policy) Check(now time.Time, loc *Location) error {
	if p.TimeWindow != nil && !p.TimeWindow.Allows(now) {
		return RestrictionError{Reason: ReasonOutsideTimeWindow}
	}

	if loc == nil {
		if p.RequireLocation || p.GeoFence != nil {
			return RestrictionError{Reason: ReasonLocationRequired}
		}
		return nil
	}

	if p.GeoFence != nil && !p.GeoFence.Contains(*loc) {
		d := DistanceMeters(p.GeoFence.Center, *loc)
		return RestrictionError{
			Reason: ReasonOutsideGeoFence,
			Detail: fmt.Sprintf("%.0fm from center, radius %.0fm", d, p.GeoFence.RadiusMeters),
		}
	}
	return nil
}
