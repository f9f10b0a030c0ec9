package classifiers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/i474232898/climate-region-aggregation/internal/climate"
)

// RemoteClassifier implements climate.Classifier against an HTTP mask
// service. The service answers POST /classify with a mask for the posted
// coordinates and GET /regions with its region set.
type RemoteClassifier struct {
	name   string
	client *resilientClient
}

type classifyRequest struct {
	Lat []float64 `json:"lat"`
	Lon []float64 `json:"lon"`
}

type classifyResponse struct {
	Mask    []*int   `json:"mask"`
	Numbers []int    `json:"numbers"`
	Names   []string `json:"names"`
	Abbrevs []string `json:"abbrevs"`
}

// NewRemoteClassifier returns a classifier backed by the mask service at
// baseURL, retrying transient failures behind a circuit breaker.
func NewRemoteClassifier(client *http.Client, baseURL string) *RemoteClassifier {
	backoff := BackoffConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
	return &RemoteClassifier{
		name:   "remote:" + baseURL,
		client: newResilientClient("regionmask", client, strings.TrimRight(baseURL, "/"), backoff),
	}
}

func (r *RemoteClassifier) Name() string {
	return r.name
}

// Classify posts the coordinates to the mask service. Cells the service
// leaves null come back as climate.Unassigned.
func (r *RemoteClassifier) Classify(ctx context.Context, lat, lon []float64) (climate.Classification, error) {
	if len(lat) != len(lon) {
		return climate.Classification{}, climate.ErrMisaligned
	}

	body, err := json.Marshal(classifyRequest{Lat: lat, Lon: lon})
	if err != nil {
		return climate.Classification{}, err
	}

	resp, err := r.client.do(ctx, http.MethodPost, "/classify", body)
	if err != nil {
		return climate.Classification{}, err
	}
	defer resp.Body.Close()

	var payload classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return climate.Classification{}, fmt.Errorf("decode mask response: %w", err)
	}

	mask := make([]int, len(payload.Mask))
	for i, m := range payload.Mask {
		if m == nil {
			mask[i] = climate.Unassigned
			continue
		}
		mask[i] = *m
	}

	cls := climate.Classification{
		Mask:    mask,
		Numbers: payload.Numbers,
		Names:   payload.Names,
		Abbrevs: payload.Abbrevs,
	}
	if err := cls.Validate(len(lat)); err != nil {
		return climate.Classification{}, err
	}
	return cls, nil
}

// Regions implements climate.RegionLister.
func (r *RemoteClassifier) Regions(ctx context.Context) ([]climate.RegionInfo, error) {
	resp, err := r.client.do(ctx, http.MethodGet, "/regions", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var regions []climate.RegionInfo
	if err := json.NewDecoder(resp.Body).Decode(&regions); err != nil {
		return nil, fmt.Errorf("decode regions response: %w", err)
	}
	return regions, nil
}
