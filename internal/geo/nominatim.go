// Package geo resolves coordinates granted by the user's device to a place
// name for location-scoped resources.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"intake-chatbot/pkg"
)

// ErrNoLocation means the coordinates could not be resolved.  Callers treat
// it as "no location" and carry on.
var ErrNoLocation = errors.New("geo: location could not be resolved")

const userAgent = "intake-chatbot/1.0"

// Resolver is a reverse geocoding client for a Nominatim-compatible server.
type Resolver struct {
	baseURL string
	client  *http.Client
}

// NewResolver returns a resolver for baseURL.  A nil client gets a short
// timeout so a slow geocoder cannot hold up the conversation.
func NewResolver(baseURL string, client *http.Client) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Resolver{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type reverseResponse struct {
	DisplayName string `json:"display_name"`
	Address     struct {
		City    string `json:"city"`
		Town    string `json:"town"`
		Village string `json:"village"`
		State   string `json:"state"`
		Region  string `json:"region"`
		Country string `json:"country"`
	} `json:"address"`
}

// Reverse resolves coordinates to "City, State" (or the display name when
// no settlement is known).
func (r *Resolver) Reverse(ctx context.Context, lat, lon float64) (pkg.Place, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return pkg.Place{}, fmt.Errorf("%w: coordinates out of range", ErrNoLocation)
	}
	q := url.Values{}
	q.Set("format", "json")
	q.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', 6, 64))
	q.Set("zoom", "10")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return pkg.Place{}, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return pkg.Place{}, fmt.Errorf("%w: %v", ErrNoLocation, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return pkg.Place{}, fmt.Errorf("%w: status %d", ErrNoLocation, resp.StatusCode)
	}

	var body reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return pkg.Place{}, fmt.Errorf("%w: decode: %v", ErrNoLocation, err)
	}
	name := formatPlace(body)
	if name == "" {
		return pkg.Place{}, ErrNoLocation
	}
	return pkg.Place{Name: name, Latitude: lat, Longitude: lon}, nil
}

func formatPlace(b reverseResponse) string {
	city := firstNonEmpty(b.Address.City, b.Address.Town, b.Address.Village)
	if city == "" {
		return strings.TrimSpace(b.DisplayName)
	}
	if region := firstNonEmpty(b.Address.State, b.Address.Region, b.Address.Country); region != "" {
		return city + ", " + region
	}
	return city
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
