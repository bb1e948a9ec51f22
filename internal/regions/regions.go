// Package regions holds the fixed set of regional object stores and the
// geo-aware router that picks which one answers a content read.
package regions

import (
	"errors"
	"math"

	"github.com/thanos-io/objstore"

	"github.com/springfiles/edgecache/internal/config"
)

// Region is one regional object store with its fixed reference coordinate.
type Region struct {
	Name   string
	Lat    float64
	Lon    float64
	Bucket objstore.Bucket
}

// Origin is a request's geographic origin. Valid is false when the platform
// supplied no usable geolocation.
type Origin struct {
	Lat   float64
	Lon   float64
	Valid bool
}

// Set is the deploy-time-fixed, ordered collection of regions. Order is the
// router's tie-break order.
type Set struct {
	regions    []Region
	defaultLat float64
	defaultLon float64
}

func NewSet(regions []Region, defaultLat, defaultLon float64) (*Set, error) {
	if len(regions) == 0 {
		return nil, errors.New("at least one region is required")
	}
	seen := map[string]struct{}{}
	for _, r := range regions {
		if r.Name == "" {
			return nil, errors.New("region name must not be empty")
		}
		if _, dup := seen[r.Name]; dup {
			return nil, errors.New("duplicate region name: " + r.Name)
		}
		seen[r.Name] = struct{}{}
	}
	return &Set{regions: regions, defaultLat: defaultLat, defaultLon: defaultLon}, nil
}

// All returns the regions in configured order.
func (s *Set) All() []Region { return s.regions }

// Select picks the region that answers a content read. Pure and total: it
// always returns a region, because routing only decides which store answers,
// never whether one can.
//
// An override matching a configured region name wins regardless of distance.
// Otherwise the region with the minimum great-circle distance from the
// origin is chosen, falling back to the configured default coordinate when
// the origin is unknown. Ties keep the first region in configured order.
func (s *Set) Select(origin Origin, override string) Region {
	if override != "" {
		for _, r := range s.regions {
			if r.Name == override {
				return r
			}
		}
	}

	lat, lon := s.defaultLat, s.defaultLon
	if origin.Valid {
		lat, lon = origin.Lat, origin.Lon
	}

	best := s.regions[0]
	bestDist := distanceOnSphere(lat, lon, best.Lat, best.Lon)
	for _, r := range s.regions[1:] {
		if d := distanceOnSphere(lat, lon, r.Lat, r.Lon); d < bestDist {
			best, bestDist = r, d
		}
	}
	return best
}

// distanceOnSphere returns the arc length between two coordinates on a unit
// sphere. Only relative ordering matters here, so the earth radius is never
// applied.
func distanceOnSphere(lat1, lon1, lat2, lon2 float64) float64 {
	if lat1 == lat2 && lon1 == lon2 {
		return 0.0
	}

	degToRad := math.Pi / 180.0

	phi1 := (90.0 - lat1) * degToRad
	phi2 := (90.0 - lat2) * degToRad
	theta1 := lon1 * degToRad
	theta2 := lon2 * degToRad

	cos := math.Sin(phi1)*math.Sin(phi2)*math.Cos(theta1-theta2) +
		math.Cos(phi1)*math.Cos(phi2)
	// Clamp against floating point drift before Acos.
	cos = math.Max(-1, math.Min(1, cos))
	return math.Acos(cos)
}

// FromConfig builds a Set by pairing configured region coordinates with
// buckets produced by mkBucket (S3 in production, in-mem in tests).
func FromConfig(cfgs []config.RegionCfg, defaultLat, defaultLon float64, mkBucket func(config.RegionCfg) (objstore.Bucket, error)) (*Set, error) {
	rs := make([]Region, 0, len(cfgs))
	for _, rc := range cfgs {
		b, err := mkBucket(rc)
		if err != nil {
			return nil, errors.New("region " + rc.Name + ": " + err.Error())
		}
		rs = append(rs, Region{Name: rc.Name, Lat: rc.Lat, Lon: rc.Lon, Bucket: b})
	}
	return NewSet(rs, defaultLat, defaultLon)
}
