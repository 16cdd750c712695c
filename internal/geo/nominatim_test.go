package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReverse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.Equal(t, "45.515200", r.URL.Query().Get("lat"))
		assert.Equal(t, "10", r.URL.Query().Get("zoom"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"display_name": "Portland, Multnomah County, Oregon, United States",
			"address": {"city": "Portland", "state": "Oregon", "country": "United States"}}`))
	}))
	defer srv.Close()

	place, err := NewResolver(srv.URL+"/", srv.Client()).Reverse(context.Background(), 45.5152, -122.6784)
	require.NoError(t, err)
	assert.Equal(t, "Portland, Oregon", place.Name)
	assert.InDelta(t, -122.6784, place.Longitude, 1e-9)
}

func TestReverseFallbacks(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"town and country", http.StatusOK, `{"address": {"town": "Hebden Bridge", "country": "United Kingdom"}}`, "Hebden Bridge, United Kingdom"},
		{"display name only", http.StatusOK, `{"display_name": "Somewhere remote", "address": {}}`, "Somewhere remote"},
		{"nothing usable", http.StatusOK, `{"address": {}}`, ""},
		{"server error", http.StatusBadGateway, `oops`, ""},
		{"bad json", http.StatusOK, `{`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			place, err := NewResolver(srv.URL, srv.Client()).Reverse(context.Background(), 1, 2)
			if tt.want == "" {
				assert.ErrorIs(t, err, ErrNoLocation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, place.Name)
		})
	}
}

func TestReverseRejectsBadCoordinates(t *testing.T) {
	_, err := NewResolver("http://unused", nil).Reverse(context.Background(), 91, 0)
	assert.ErrorIs(t, err, ErrNoLocation)
}
