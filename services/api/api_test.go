package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"pointval-backend/lib/scrapers/aa"
	"pointval-backend/services/scraper"
	"pointval-backend/services/scraper/db"
)

type stubBootstrapper struct{}

func (stubBootstrapper) Bootstrap(ctx context.Context) (map[string]string, error) {
	return map[string]string{"_abck": "stub~-1~value"}, nil
}

type stubFetcher struct{}

func (stubFetcher) FetchItineraries(
	ctx context.Context,
	cookies map[string]string,
	req aa.SearchRequest,
) (*aa.ItineraryResponse, error) {
	flight := aa.Flight{
		Hash:              "h1",
		DurationInMinutes: 330,
		Segments: []aa.Segment{{
			Flight: aa.FlightInfo{CarrierCode: "AA", FlightNumber: "100"},
			Legs: []aa.Leg{{
				DepartureDateTime: "2025-12-15T08:00:00-08:00",
				ArrivalDateTime:   "2025-12-15T16:30:00-05:00",
			}},
		}},
	}
	if req.Kind == aa.SearchAward {
		flight.ProductPricing = []aa.AwardProduct{{
			RegularPrice: aa.RegularPrice{
				Fares:                    []aa.Fare{{BrandInfo: aa.BrandInfo{BrandCode: "MAIN"}}},
				PerPassengerAwardPoints:  25000,
				PerPassengerTaxesAndFees: aa.Money{Amount: 11.20},
			},
		}}
	} else {
		flight.ProductGroups = map[string][]aa.CashProduct{
			"MAIN": {{
				Fares: []aa.Fare{{BrandInfo: aa.BrandInfo{BrandCode: "MAIN"}}},
				SlicePricing: aa.SlicePricing{
					AllPassengerDisplayTotal: aa.Money{Amount: 312.40},
				},
			}},
		}
	}
	return &aa.ItineraryResponse{Slices: []aa.Flight{flight}}, nil
}

func setupApi(t *testing.T) (*echo.Echo, *scraper.Service) {
	t.Helper()
	database, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	svc := scraper.NewService(database, stubFetcher{}, stubBootstrapper{})
	return NewServer(svc).Handler(), svc
}

func doRequest(t *testing.T, e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func waitForTerminalStatus(t *testing.T, svc *scraper.Service, id int64) db.Scrape {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := svc.GetJob(context.Background(), id)
		require.NoError(t, err)
		if job.Status == db.ScrapeStatusCompleted || job.Status == db.ScrapeStatusFailed {
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("scrape job never reached a terminal status")
	return db.Scrape{}
}

func TestHealth(t *testing.T) {
	e, _ := setupApi(t)
	rec := doRequest(t, e, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, false, body["scrape_running"])
}

func TestTriggerScrapeValidation(t *testing.T) {
	e, _ := setupApi(t)

	cases := []struct {
		name string
		body string
	}{
		{"bad origin", `{"origin":"LAXX","destination":"JFK","date":"2025-12-15"}`},
		{"bad destination", `{"origin":"LAX","destination":"7","date":"2025-12-15"}`},
		{"same airports", `{"origin":"LAX","destination":"lax","date":"2025-12-15"}`},
		{"bad date", `{"origin":"LAX","destination":"JFK","date":"12/15/2025"}`},
		{"too many passengers", `{"origin":"LAX","destination":"JFK","date":"2025-12-15","passengers":10}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, e, http.MethodPost, "/api/scrape", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestTriggerScrapeRunsToCompletion(t *testing.T) {
	e, svc := setupApi(t)

	rec := doRequest(t, e, http.MethodPost, "/api/scrape",
		`{"origin":"lax","destination":"JFK","date":"2025-12-15","passengers":1}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decodeBody(t, rec)
	require.Equal(t, "queued", body["status"])
	id := int64(body["scrape_id"].(float64))

	job := waitForTerminalStatus(t, svc, id)
	require.Equal(t, db.ScrapeStatusCompleted, job.Status)
	require.Equal(t, "LAX", job.Origin)
	require.Equal(t, int64(1), job.TotalFlights.Int64)
	require.Equal(t, 1.2, job.AvgCpp.Float64)
}

func TestTriggerScrapeConflictsWithRunningJob(t *testing.T) {
	e, svc := setupApi(t)
	ctx := context.Background()

	id, err := svc.CreateJob(ctx, scraper.ScrapeRequest{
		Origin: "SFO", Destination: "ORD", Date: "2025-12-20", Passengers: 1, CabinClass: "economy",
	})
	require.NoError(t, err)
	started, err := svc.TryStartJob(ctx, id)
	require.NoError(t, err)
	require.True(t, started)

	rec := doRequest(t, e, http.MethodPost, "/api/scrape",
		`{"origin":"LAX","destination":"JFK","date":"2025-12-15"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetScrape(t *testing.T) {
	e, svc := setupApi(t)

	rec := doRequest(t, e, http.MethodGet, "/api/scrapes/99", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, e, http.MethodGet, "/api/scrapes/banana", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	id, err := svc.CreateJob(context.Background(), scraper.ScrapeRequest{
		Origin: "LAX", Destination: "JFK", Date: "2025-12-15", Passengers: 2, CabinClass: "economy",
	})
	require.NoError(t, err)

	rec = doRequest(t, e, http.MethodGet, "/api/scrapes/1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	require.Equal(t, float64(id), body["id"])
	require.Equal(t, "queued", body["status"])
	require.Equal(t, float64(2), body["passengers"])
	require.Nil(t, body["completed_at"])
}

func TestListScrapes(t *testing.T) {
	e, svc := setupApi(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.CreateJob(ctx, scraper.ScrapeRequest{
			Origin: "LAX", Destination: "JFK", Date: "2025-12-15", Passengers: 1, CabinClass: "economy",
		})
		require.NoError(t, err)
	}

	rec := doRequest(t, e, http.MethodGet, "/api/scrapes?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Len(t, body["scrapes"], 2)

	rec = doRequest(t, e, http.MethodGet, "/api/scrapes?limit=0", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, e, http.MethodGet, "/api/scrapes?offset=-1", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLatestCompletedScrape(t *testing.T) {
	e, svc := setupApi(t)
	ctx := context.Background()

	rec := doRequest(t, e, http.MethodGet, "/api/scrapes/latest/completed", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	req := scraper.ScrapeRequest{
		Origin: "LAX", Destination: "JFK", Date: "2025-12-15", Passengers: 1, CabinClass: "economy",
	}
	id, err := svc.CreateJob(ctx, req)
	require.NoError(t, err)
	svc.RunJob(ctx, id, req)

	rec = doRequest(t, e, http.MethodGet, "/api/scrapes/latest/completed", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	require.Equal(t, "completed", body["status"])
	require.NotNil(t, body["results"])
}

func TestDeleteScrape(t *testing.T) {
	e, svc := setupApi(t)

	id, err := svc.CreateJob(context.Background(), scraper.ScrapeRequest{
		Origin: "LAX", Destination: "JFK", Date: "2025-12-15", Passengers: 1, CabinClass: "economy",
	})
	require.NoError(t, err)

	rec := doRequest(t, e, http.MethodDelete, "/api/scrapes/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, float64(id), decodeBody(t, rec)["deleted"])

	rec = doRequest(t, e, http.MethodDelete, "/api/scrapes/1", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCompareScrapes(t *testing.T) {
	e, svc := setupApi(t)
	ctx := context.Background()

	runScrape := func(origin, destination string) int64 {
		req := scraper.ScrapeRequest{
			Origin: origin, Destination: destination, Date: "2025-12-15",
			Passengers: 1, CabinClass: "economy",
		}
		id, err := svc.CreateJob(ctx, req)
		require.NoError(t, err)
		svc.RunJob(ctx, id, req)
		return id
	}
	first := runScrape("LAX", "JFK")
	second := runScrape("SFO", "ORD")

	rec := doRequest(t, e, http.MethodGet, "/api/compare?ids=1,2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Comparisons []comparisonEntry `json:"comparisons"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Comparisons, 2)
	require.Equal(t, first, body.Comparisons[0].ID)
	require.Equal(t, "LAX-JFK", body.Comparisons[0].Route)
	require.Equal(t, 1.2, body.Comparisons[0].BestCpp)
	require.Equal(t, second, body.Comparisons[1].ID)

	// queued jobs cannot be compared
	queued, err := svc.CreateJob(ctx, scraper.ScrapeRequest{
		Origin: "LAX", Destination: "DFW", Date: "2025-12-15", Passengers: 1, CabinClass: "economy",
	})
	require.NoError(t, err)
	rec = doRequest(t, e, http.MethodGet, "/api/compare?ids=3", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	_ = queued

	rec = doRequest(t, e, http.MethodGet, "/api/compare?ids=", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, e, http.MethodGet, "/api/compare?ids=abc", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
