// Package geoip resolves client IPs to country and region codes for
// event enrichment. Lookups degrade to empty strings so a missing or
// broken database never blocks ad delivery or analytics.
package geoip

import (
	"encoding/json"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

// Resolver provides country and region lookup using a MaxMind DB or a
// JSON fallback file of CIDR entries.
type Resolver struct {
	db       *geoip2.Reader
	fallback []record
}

type record struct {
	net     *net.IPNet
	country string
	region  string
}

// Open loads the database at path. A MaxMind binary file is tried first;
// if that fails the file is parsed as a JSON array of {net, country, region}
// entries so tests and local setups can run without the real database.
func Open(path string) (*Resolver, error) {
	r := &Resolver{}
	db, err := geoip2.Open(path)
	if err == nil {
		r.db = db
		return r, nil
	}

	data, jerr := os.ReadFile(path)
	if jerr != nil {
		return nil, err
	}
	var entries []struct {
		Net     string `json:"net"`
		Country string `json:"country"`
		Region  string `json:"region"`
	}
	if jerr = json.Unmarshal(data, &entries); jerr != nil {
		return nil, err
	}
	for _, e := range entries {
		if _, n, perr := net.ParseCIDR(e.Net); perr == nil {
			r.fallback = append(r.fallback, record{net: n, country: e.Country, region: e.Region})
		}
	}
	return r, nil
}

// Country returns the ISO country code for the given IP, or "" when the
// IP is unknown or the resolver is nil.
func (r *Resolver) Country(ip net.IP) string {
	if r == nil || ip == nil {
		return ""
	}
	if r.db != nil {
		rec, err := r.db.Country(ip)
		if err == nil {
			return rec.Country.IsoCode
		}
	}
	for _, f := range r.fallback {
		if f.net.Contains(ip) {
			return f.country
		}
	}
	return ""
}

// Region returns the first subdivision code for the given IP, or "".
func (r *Resolver) Region(ip net.IP) string {
	if r == nil || ip == nil {
		return ""
	}
	if r.db != nil {
		rec, err := r.db.City(ip)
		if err == nil && len(rec.Subdivisions) > 0 {
			return rec.Subdivisions[0].IsoCode
		}
	}
	for _, f := range r.fallback {
		if f.net.Contains(ip) {
			return f.region
		}
	}
	return ""
}

// ClientIP extracts the originating client IP from a request, preferring
// the first X-Forwarded-For hop over RemoteAddr.
func ClientIP(req *http.Request) net.IP {
	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		first := xff
		if idx := strings.IndexByte(xff, ','); idx >= 0 {
			first = xff[:idx]
		}
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	return net.ParseIP(host)
}

// Close releases resources associated with the database.
func (r *Resolver) Close() error {
	if r != nil && r.db != nil {
		return r.db.Close()
	}
	return nil
}
