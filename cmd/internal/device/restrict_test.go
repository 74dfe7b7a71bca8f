package device

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestDistanceMeters(t *testing.T) {
	t.Parallel()

	a := Location{Latitude: 10.7589, Longitude: 78.8132}
	if d := DistanceMeters(a, a); d != 0 {
		t.Fatalf("distance to self = %v", d)
	}

	// One degree of latitude is ~111.2km.
	b := Location{Latitude: 11.7589, Longitude: 78.8132}
	if d := DistanceMeters(a, b); math.Abs(d-111195) > 200 {
		t.Fatalf("1 degree latitude = %v m", d)
	}
}

func TestPolicy_Check(t *testing.T) {
	t.Parallel()

	center := Location{Latitude: 10.7589, Longitude: 78.8132}
	near := Location{Latitude: 10.7591, Longitude: 78.8133} // ~25m
	far := Location{Latitude: 10.7689, Longitude: 78.8132}  // ~1.1km

	ist := time.FixedZone("IST", 5*3600+1800)
	inClass := time.Date(2026, 4, 6, 9, 30, 0, 0, ist) // Monday
	night := time.Date(2026, 4, 6, 23, 0, 0, 0, ist)
	sunday := time.Date(2026, 4, 5, 9, 30, 0, 0, ist)

	fence := &GeoFence{Center: center, RadiusMeters: 100}
	window := &TimeWindow{StartMinute: 8 * 60, EndMinute: 17 * 60, Weekdays: []time.Weekday{time.Monday, time.Tuesday}, Zone: ist}

	cases := []struct {
		name   string
		p      Policy
		at     time.Time
		loc    *Location
		reason string
	}{
		{name: "zero policy", p: Policy{}, at: night},
		{name: "inside fence", p: Policy{GeoFence: fence}, at: inClass, loc: &near},
		{name: "outside fence", p: Policy{GeoFence: fence}, at: inClass, loc: &far, reason: ReasonOutsideGeoFence},
		{name: "fence without location", p: Policy{GeoFence: fence}, at: inClass, reason: ReasonLocationRequired},
		{name: "location required", p: Policy{RequireLocation: true}, at: inClass, reason: ReasonLocationRequired},
		{name: "in window", p: Policy{TimeWindow: window}, at: inClass},
		{name: "after hours", p: Policy{TimeWindow: window}, at: night, reason: ReasonOutsideTimeWindow},
		{name: "wrong weekday", p: Policy{TimeWindow: window}, at: sunday, reason: ReasonOutsideTimeWindow},
	}

	for _, tc := range cases {
		err := tc.p.Check(tc.at, tc.loc)
		if tc.reason == "" {
			if err != nil {
				t.Fatalf("%s: unexpected %v", tc.name, err)
			}
			continue
		}
		var re RestrictionError
		if !errors.As(err, &re) || !errors.Is(err, ErrRestricted) || re.Reason != tc.reason {
			t.Fatalf("%s: expected %s, got %v", tc.name, tc.reason, err)
		}
	}
}

func TestTimeWindow_WrapsMidnight(t *testing.T) {
	t.Parallel()

	w := TimeWindow{StartMinute: 22 * 60, EndMinute: 2 * 60}
	for _, c := range []struct {
		hour int
		want bool
	}{{21, false}, {22, true}, {23, true}, {0, true}, {1, true}, {2, false}, {12, false}} {
		at := time.Date(2026, 4, 6, c.hour, 0, 0, 0, time.UTC)
		if got := w.Allows(at); got != c.want {
			t.Fatalf("hour %d: allows=%v want %v", c.hour, got, c.want)
		}
	}
}

func TestPolicy_Validate(t *testing.T) {
	t.Parallel()

	ok := Policy{
		GeoFence:   &GeoFence{Center: Location{Latitude: 10, Longitude: 78}, RadiusMeters: 150},
		TimeWindow: &TimeWindow{StartMinute: 480, EndMinute: 1020},
	}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid policy rejected: %v", err)
	}

	bad := []Policy{
		{GeoFence: &GeoFence{Center: Location{Latitude: 91}, RadiusMeters: 10}},
		{GeoFence: &GeoFence{Center: Location{Longitude: -181}, RadiusMeters: 10}},
		{GeoFence: &GeoFence{RadiusMeters: 0}},
		{TimeWindow: &TimeWindow{StartMinute: 1440}},
		{TimeWindow: &TimeWindow{Weekdays: []time.Weekday{7}}},
	}
	for i, p := range bad {
		if err := p.Validate(); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d: expected ErrInvalidInput, got %v", i, err)
		}
	}
}
