package regions

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	geoip2 "github.com/oschwald/geoip2-golang"
)

// OverrideHeader names the region override escape hatch used by tests and
// debugging; a value matching a configured region name is used verbatim.
const OverrideHeader = "X-Edge-Region"

// Geo headers set by fronting proxies that already resolved the client.
const (
	latHeader = "X-Geo-Lat"
	lonHeader = "X-Geo-Lon"
)

// Resolver turns an inbound request into an Origin. When a MaxMind database
// is configured the client IP is looked up there; proxy-provided geo headers
// take precedence since the proxy sits closer to the client.
type Resolver struct {
	db *geoip2.Reader
}

func NewResolver(dbPath string) (*Resolver, error) {
	if dbPath == "" {
		return &Resolver{}, nil
	}
	db, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}
	return &Resolver{db: db}, nil
}

func (g *Resolver) Close() error {
	if g.db == nil {
		return nil
	}
	return g.db.Close()
}

func (g *Resolver) Origin(r *http.Request) Origin {
	if lat, lon, ok := headerCoords(r); ok {
		return Origin{Lat: lat, Lon: lon, Valid: true}
	}
	if g.db == nil {
		return Origin{}
	}
	ip := clientIP(r)
	if ip == nil {
		return Origin{}
	}
	rec, err := g.db.City(ip)
	if err != nil || rec == nil {
		return Origin{}
	}
	loc := rec.Location
	if loc.Latitude == 0 && loc.Longitude == 0 {
		return Origin{}
	}
	return Origin{Lat: loc.Latitude, Lon: loc.Longitude, Valid: true}
}

func headerCoords(r *http.Request) (lat, lon float64, ok bool) {
	latS := strings.TrimSpace(r.Header.Get(latHeader))
	lonS := strings.TrimSpace(r.Header.Get(lonHeader))
	if latS == "" || lonS == "" {
		return 0, 0, false
	}
	lat, err1 := strconv.ParseFloat(latS, 64)
	lon, err2 := strconv.ParseFloat(lonS, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return 0, 0, false
	}
	return lat, lon, true
}

func clientIP(r *http.Request) net.IP {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return net.ParseIP(r.RemoteAddr)
	}
	return net.ParseIP(host)
}
