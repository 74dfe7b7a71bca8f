package app

import (
	"context"

	"rollcall/cmd/internal/device"
)

// fixedPolicy applies one restriction policy to every session.
type fixedPolicy struct {
	p device.Policy
}

func (f fixedPolicy) Policy(context.Context, string) (device.Policy, bool, error) {
	return f.p, true, nil
}

// campusPolicy returns the configured campus geofence, ok=false when disabled.
func campusPolicy(cfg Config) (fixedPolicy, bool, error) {
	if cfg.GeofenceRadiusM <= 0 {
		return fixedPolicy{}, false, nil
	}
	p := device.Policy{
		GeoFence: &device.GeoFence{
			Center:       device.Location{Latitude: cfg.GeofenceLat, Longitude: cfg.GeofenceLng},
			RadiusMeters: cfg.GeofenceRadiusM,
		},
		RequireLocation: true,
	}
	if err := p.Validate(); err != nil {
		return fixedPolicy{}, false, err
	}
	return fixedPolicy{p: p}, true, nil
}
