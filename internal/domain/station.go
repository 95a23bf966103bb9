package domain

import (
	"context"
	"log/slog"
)

// Station is the gauge location shown next to the live clock.
type Station struct {
	Name             string  `json:"name"`
	Region           string  `json:"region,omitempty"`
	Lat              float64 `json:"lat,omitempty"`
	Lon              float64 `json:"lon,omitempty"`
	FormattedAddress string  `json:"formatted_address,omitempty"`
	GeoSource        string  `json:"geo_source,omitempty"` // "forward", "reverse", "configured", "failed"
}

// Label is the short display form, e.g. "Solapur, Maharashtra".
func (s Station) Label() string {
	switch {
	case s.Name != "" && s.Region != "":
		return s.Name + ", " + s.Region
	case s.Name != "":
		return s.Name
	default:
		return s.FormattedAddress
	}
}

// ResolveStation fills in the station's coordinates or address. Configured
// values are kept when the geocoder is nil, fails, or finds nothing.
func ResolveStation(ctx context.Context, station Station, geocoder Geocoder, logger *slog.Logger) Station {
	if geocoder == nil {
		return station
	}

	hasCoords := station.Lat != 0 || station.Lon != 0

	// Forward: name → coordinates, when coordinates were not configured.
	if !hasCoords && station.Name != "" {
		result, err := geocoder.ForwardGeocode(ctx, station.Name, station.Region)
		if err != nil {
			logger.Warn("forward geocoding failed",
				"station", station.Name,
				"region", station.Region,
				"error", err,
			)
			station.GeoSource = "failed"
			return station
		}
		if result.Lat != 0 || result.Lon != 0 {
			station.Lat = result.Lat
			station.Lon = result.Lon
			station.FormattedAddress = result.FormattedAddress
			station.GeoSource = "forward"
			return station
		}
		station.GeoSource = "configured"
		return station
	}

	// Reverse: coordinates → place details, when no name was configured.
	if hasCoords && station.Name == "" {
		result, err := geocoder.ReverseGeocode(ctx, station.Lat, station.Lon)
		if err != nil {
			logger.Warn("reverse geocoding failed",
				"lat", station.Lat,
				"lon", station.Lon,
				"error", err,
			)
			station.GeoSource = "failed"
			return station
		}
		if result.FormattedAddress != "" {
			station.Name = result.PlaceName
			station.FormattedAddress = result.FormattedAddress
			station.GeoSource = "reverse"
			return station
		}
	}

	station.GeoSource = "configured"
	return station
}
