package geo

import (
	"context"
	"fmt"
	"net"

	"github.com/oschwald/maxminddb-golang"
)

// MMDB reads locations from a local MaxMind database (GeoLite2-City or a
// compatible file). Databases without ISP data report an empty ISP, which
// Lookup replaces with "Unknown".
type MMDB struct {
	reader *maxminddb.Reader
}

type mmdbRecord struct {
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	Country struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"country"`
	Location struct {
		Latitude  float64 `maxminddb:"latitude"`
		Longitude float64 `maxminddb:"longitude"`
	} `maxminddb:"location"`
	ISP string `maxminddb:"isp"`
}

func OpenMMDB(path string) (*MMDB, error) {
	r, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return &MMDB{reader: r}, nil
}

func (m *MMDB) Lookup(_ context.Context, ip string) (Location, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Location{}, fmt.Errorf("invalid ip %q", ip)
	}

	var rec mmdbRecord
	if err := m.reader.Lookup(parsed, &rec); err != nil {
		return Location{}, fmt.Errorf("mmdb lookup: %w", err)
	}

	loc := Location{
		Country: orUnknown(rec.Country.Names["en"]),
		City:    orUnknown(rec.City.Names["en"]),
		Lat:     rec.Location.Latitude,
		Lng:     rec.Location.Longitude,
		ISP:     orUnknown(rec.ISP),
	}
	return loc, nil
}

func (m *MMDB) Close() error {
	return m.reader.Close()
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

var _ Provider = (*MMDB)(nil)
