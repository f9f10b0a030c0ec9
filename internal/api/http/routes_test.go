package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/i474232898/climate-region-aggregation/internal/climate"
	"github.com/i474232898/climate-region-aggregation/internal/climate/classifiers"
	"github.com/i474232898/climate-region-aggregation/internal/store"
)

const squares = `
name: squares
regions:
  - number: 10
    abbrev: A
    name: Alpha
    parts:
      - [[0, 0], [10, 0], [10, 10], [0, 10]]
  - number: 20
    abbrev: B
    name: Beta
    parts:
      - [[10, 0], [20, 0], [20, 10], [10, 10]]
`

// Two cells in Alpha, one in Beta, one in no region.
func testField() climate.Field {
	return climate.Field{
		Name:   "tas",
		Units:  "K",
		Dims:   []string{"gridcell"},
		Shape:  []int{4},
		Values: climate.Values{1, 2, 3, 4},
		Lat:    climate.Values{5, 5, 5, 50},
		Lon:    climate.Values{4, 6, 15, 50},
	}
}

type fixedLoader struct{}

func (fixedLoader) Load(ds climate.Dataset) (*climate.Field, error) {
	f := testField()
	f.Name = ds.Variable
	return &f, nil
}

type brokenClassifier struct{}

func (brokenClassifier) Name() string { return "broken" }

func (brokenClassifier) Classify(context.Context, []float64, []float64) (climate.Classification, error) {
	return climate.Classification{}, errors.New("mask service unavailable")
}

func newTestApp(t *testing.T, classifier climate.Classifier) *fiber.App {
	t.Helper()
	if classifier == nil {
		set, err := classifiers.ParseRegionSet([]byte(squares))
		if err != nil {
			t.Fatalf("ParseRegionSet: %v", err)
		}
		classifier = classifiers.NewPolygonClassifier(set)
	}
	svc := climate.NewService(
		store.NewMemoryStore(10, time.Hour),
		classifier,
		fixedLoader{},
		[]climate.Dataset{{Name: "tas", Path: "tas.nc", Variable: "tas"}},
	)
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	RegisterRoutes(app, svc)
	return app
}

func do(t *testing.T, app *fiber.App, req *http.Request, wantStatus int) []byte {
	t.Helper()
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != wantStatus {
		t.Fatalf("%s %s: expected status %d, got %d: %s", req.Method, req.URL, wantStatus, resp.StatusCode, body)
	}
	return body
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-12 }

func postJSON(t *testing.T, path string, v interface{}) *http.Request {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return req
}

func TestRegionalMeansJSON(t *testing.T) {
	app := newTestApp(t, nil)

	body := do(t, app, postJSON(t, "/api/v1/regional-means", testField()), http.StatusOK)

	var res climate.RegionalField
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Mask) != 3 || res.Mask[0] != 10 || res.Mask[1] != 20 || res.Mask[2] != climate.GlobalCode {
		t.Fatalf("mask: got %v", res.Mask)
	}
	if !near(res.Values[0], 1.5) || !near(res.Values[1], 3) {
		t.Errorf("regional means: got %v", res.Values)
	}
	w5, w50 := math.Cos(5*math.Pi/180), math.Cos(50*math.Pi/180)
	want := (w5*(1+2+3) + w50*4) / (3*w5 + w50)
	if !near(res.Values[2], want) {
		t.Errorf("global mean: got %v, want %v", res.Values[2], want)
	}
}

func TestRegionalMeansMsgpack(t *testing.T) {
	app := newTestApp(t, nil)

	b, err := msgpack.Marshal(testField())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/regional-means", bytes.NewReader(b))
	req.Header.Set(fiber.HeaderContentType, "application/msgpack")
	req.Header.Set(fiber.HeaderAccept, "application/msgpack")

	body := do(t, app, req, http.StatusOK)
	var res climate.RegionalField
	if err := msgpack.Unmarshal(body, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Values) != 3 || !near(res.Values[1], 3) {
		t.Errorf("values: got %v", res.Values)
	}
}

func TestRegionalMeansBadRequests(t *testing.T) {
	app := newTestApp(t, nil)

	noGridcell := testField()
	noGridcell.Dims = []string{"cell"}
	do(t, app, postJSON(t, "/api/v1/regional-means", noGridcell), http.StatusBadRequest)

	misaligned := testField()
	misaligned.Lat = climate.Values{5}
	do(t, app, postJSON(t, "/api/v1/regional-means", misaligned), http.StatusBadRequest)

	noDims := testField()
	noDims.Dims = nil
	do(t, app, postJSON(t, "/api/v1/regional-means", noDims), http.StatusBadRequest)

	half := 1 << (strconv.IntSize / 2)
	overflow := climate.Field{
		Dims:   []string{"time", "gridcell", "x"},
		Shape:  []int{half, 1, half},
		Values: climate.Values{},
		Lat:    climate.Values{5},
		Lon:    climate.Values{5},
	}
	do(t, app, postJSON(t, "/api/v1/regional-means", overflow), http.StatusBadRequest)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/regional-means", bytes.NewReader([]byte("{")))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	do(t, app, req, http.StatusBadRequest)
}

func TestClassifierFailureIsBadGateway(t *testing.T) {
	app := newTestApp(t, brokenClassifier{})

	body := do(t, app, postJSON(t, "/api/v1/regional-means", testField()), http.StatusBadGateway)
	var payload struct {
		Error   bool   `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || !payload.Error || payload.Message == "" {
		t.Errorf("error body: %s", body)
	}
}

func TestRegions(t *testing.T) {
	app := newTestApp(t, nil)

	body := do(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/regions", nil), http.StatusOK)
	var payload struct {
		Regions []climate.RegionInfo `json:"regions"`
		Global  climate.RegionInfo   `json:"global"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Regions) != 2 || payload.Regions[1].Abbrev != "B" || payload.Global.Number != climate.GlobalCode {
		t.Errorf("regions: got %+v", payload)
	}
}

func TestDatasetLifecycle(t *testing.T) {
	app := newTestApp(t, nil)

	do(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/datasets/tas/latest", nil), http.StatusNotFound)
	do(t, app, httptest.NewRequest(http.MethodPost, "/api/v1/datasets/pr/recompute", nil), http.StatusNotFound)
	do(t, app, httptest.NewRequest(http.MethodPost, "/api/v1/datasets/tas/recompute", nil), http.StatusCreated)

	body := do(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/datasets/tas/latest", nil), http.StatusOK)
	var snap climate.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Dataset != "tas" || snap.ID == "" || len(snap.Result.Mask) != 3 {
		t.Errorf("snapshot: got %+v", snap)
	}

	body = do(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/datasets/tas/latest?region=b", nil), http.StatusOK)
	var series regionSeries
	if err := json.Unmarshal(body, &series); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if series.Region.Number != 20 || len(series.Values) != 1 || !near(series.Values[0], 3) || len(series.Dims) != 0 {
		t.Errorf("region series: got %+v", series)
	}

	do(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/datasets/tas/latest?region=GLOBAL", nil), http.StatusOK)
	do(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/datasets/tas/latest?region=10", nil), http.StatusOK)
	do(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/datasets/tas/latest?region=ZZ", nil), http.StatusNotFound)
}

func TestHistoryValidation(t *testing.T) {
	app := newTestApp(t, nil)
	do(t, app, httptest.NewRequest(http.MethodPost, "/api/v1/datasets/tas/recompute", nil), http.StatusCreated)

	// Missing range should return 400.
	do(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/datasets/tas/history", nil), http.StatusBadRequest)

	// An inverted range should also return 400.
	do(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/datasets/tas/history?from=2000&to=1000", nil), http.StatusBadRequest)

	do(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/datasets/tas/history?from=yesterday&to=1000", nil), http.StatusBadRequest)

	now := time.Now().UTC()
	path := "/api/v1/datasets/tas/history?from=" + now.Add(-time.Hour).Format(time.RFC3339) + "&to=" + now.Add(time.Hour).Format(time.RFC3339)
	body := do(t, app, httptest.NewRequest(http.MethodGet, path, nil), http.StatusOK)
	var payload struct {
		Snapshots []climate.Snapshot `json:"snapshots"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Snapshots) != 1 {
		t.Errorf("snapshots: got %d", len(payload.Snapshots))
	}
}

func TestRegionalMeansMissingCoordinateValue(t *testing.T) {
	app := newTestApp(t, nil)

	field := testField()
	field.Dims = []string{"time", "gridcell"}
	field.Shape = []int{2, 4}
	field.Values = climate.Values{1, 2, 3, 4, 5, 6, 7, 8}
	field.Coords = map[string]climate.Values{"time": {0, math.NaN()}}

	body := do(t, app, postJSON(t, "/api/v1/regional-means", field), http.StatusOK)
	var res climate.RegionalField
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tc := res.Coords["time"]; len(tc) != 2 || tc[0] != 0 || !math.IsNaN(tc[1]) {
		t.Errorf("time coordinate: got %v", tc)
	}
}
