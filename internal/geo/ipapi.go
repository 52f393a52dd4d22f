package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// DefaultIPAPIEndpoint is the public ip-api.com JSON service.
const DefaultIPAPIEndpoint = "http://ip-api.com"

// IPAPI looks addresses up against an ip-api.com compatible endpoint.
type IPAPI struct {
	endpoint string
	client   *http.Client
}

func NewIPAPI(endpoint string, client *http.Client) *IPAPI {
	if endpoint == "" {
		endpoint = DefaultIPAPIEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &IPAPI{endpoint: strings.TrimRight(endpoint, "/"), client: client}
}

type ipapiResponse struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Country string  `json:"country"`
	City    string  `json:"city"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	ISP     string  `json:"isp"`
}

func (p *IPAPI) Lookup(ctx context.Context, ip string) (Location, error) {
	u := fmt.Sprintf("%s/json/%s?fields=status,message,country,city,lat,lon,isp", p.endpoint, url.PathEscape(ip))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Location{}, fmt.Errorf("building request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("querying ip-api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("ip-api returned %s", resp.Status)
	}

	var body ipapiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Location{}, fmt.Errorf("decoding ip-api response: %w", err)
	}
	if body.Status != "success" {
		return Location{}, fmt.Errorf("ip-api lookup failed: %s", body.Message)
	}

	return Location{
		Country: body.Country,
		City:    body.City,
		Lat:     body.Lat,
		Lng:     body.Lon,
		ISP:     body.ISP,
	}, nil
}

var _ Provider = (*IPAPI)(nil)
