package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pointval-backend/lib/scrapers/aa"
	"pointval-backend/services/scraper/db"
)

type fakeBootstrapper struct {
	mu      sync.Mutex
	calls   int
	cookies map[string]string
	err     error
}

func (f *fakeBootstrapper) Bootstrap(ctx context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.cookies != nil {
		return f.cookies, nil
	}
	return map[string]string{"_abck": "fresh~-1~value"}, nil
}

func (f *fakeBootstrapper) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fetchCall struct {
	cookies map[string]string
	req     aa.SearchRequest
}

type fakeFetcher struct {
	mu      sync.Mutex
	calls   []fetchCall
	respond func(req aa.SearchRequest) (*aa.ItineraryResponse, error)
}

func (f *fakeFetcher) FetchItineraries(
	ctx context.Context,
	cookies map[string]string,
	req aa.SearchRequest,
) (*aa.ItineraryResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{cookies: cookies, req: req})
	f.mu.Unlock()
	return f.respond(req)
}

func (f *fakeFetcher) kindsFetched() map[aa.SearchKind]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	kinds := map[aa.SearchKind]int{}
	for _, call := range f.calls {
		kinds[call.req.Kind]++
	}
	return kinds
}

func okResponder(req aa.SearchRequest) (*aa.ItineraryResponse, error) {
	res := &aa.ItineraryResponse{
		ResponseMetadata: aa.ResponseMetadata{SessionExpirationTime: 1765816200000},
	}
	if req.Kind == aa.SearchAward {
		res.Slices = []aa.Flight{awardFlight("h1", 25000, 11.20)}
	} else {
		res.Slices = []aa.Flight{cashFlight("h1", 312.40)}
	}
	return res, nil
}

func rejectedResponder(req aa.SearchRequest) (*aa.ItineraryResponse, error) {
	return nil, &aa.RequestError{Kind: aa.KindCookiesRejected, Search: req.Kind, StatusCode: 403}
}

func setupService(t *testing.T, fetcher Fetcher, bootstrap Bootstrapper) *Service {
	t.Helper()
	database, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "scraper.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewService(database, fetcher, bootstrap)
}

func testRequest() ScrapeRequest {
	return ScrapeRequest{
		Origin:      "LAX",
		Destination: "JFK",
		Date:        "2025-12-15",
		Passengers:  1,
		CabinClass:  "economy",
	}
}

func TestScrapeFlightsHappyPath(t *testing.T) {
	fetcher := &fakeFetcher{respond: okResponder}
	bootstrap := &fakeBootstrapper{}
	svc := setupService(t, fetcher, bootstrap)

	result, err := svc.ScrapeFlights(context.Background(), testRequest())
	require.NoError(t, err)
	require.Equal(t, 1, result.TotalResults)
	require.Equal(t, "LAX", result.SearchMetadata.Origin)
	require.Equal(t, 1.2, result.Flights[0].Cpp)

	// both searches go out exactly once, sharing the same cookie set
	kinds := fetcher.kindsFetched()
	require.Equal(t, 1, kinds[aa.SearchAward])
	require.Equal(t, 1, kinds[aa.SearchRevenue])
	require.Equal(t, fetcher.calls[0].cookies, fetcher.calls[1].cookies)
	require.Equal(t, 1, bootstrap.callCount())
}

func TestScrapeFlightsBurnsThreeCookieGenerations(t *testing.T) {
	fetcher := &fakeFetcher{respond: rejectedResponder}
	bootstrap := &fakeBootstrapper{}
	svc := setupService(t, fetcher, bootstrap)

	_, err := svc.ScrapeFlights(context.Background(), testRequest())
	require.Error(t, err)
	require.Contains(t, err.Error(), "3 cookie attempts")
	require.Equal(t, 3, bootstrap.callCount())
}

func TestScrapeFlightsRecoversOnSecondGeneration(t *testing.T) {
	var attempts int
	var mu sync.Mutex
	fetcher := &fakeFetcher{}
	fetcher.respond = func(req aa.SearchRequest) (*aa.ItineraryResponse, error) {
		mu.Lock()
		attempts++
		first := attempts <= 2
		mu.Unlock()
		if first {
			return rejectedResponder(req)
		}
		return okResponder(req)
	}
	bootstrap := &fakeBootstrapper{}
	svc := setupService(t, fetcher, bootstrap)

	result, err := svc.ScrapeFlights(context.Background(), testRequest())
	require.NoError(t, err)
	require.Equal(t, 1, result.TotalResults)
	require.Equal(t, 2, bootstrap.callCount())
}

func TestScrapeFlightsServerErrorBurnsAttempts(t *testing.T) {
	fetcher := &fakeFetcher{respond: func(req aa.SearchRequest) (*aa.ItineraryResponse, error) {
		return nil, &aa.RequestError{Kind: aa.KindServerError, Search: req.Kind, StatusCode: 503}
	}}
	bootstrap := &fakeBootstrapper{}
	svc := setupService(t, fetcher, bootstrap)

	_, err := svc.ScrapeFlights(context.Background(), testRequest())
	require.Error(t, err)
	require.Contains(t, err.Error(), "3 cookie attempts")
	// an exhausted server-error budget still costs a cookie attempt;
	// there is no finer-grained recovery than a fresh harvest
	require.Equal(t, 3, bootstrap.callCount())
}

func TestScrapeFlightsBootstrapFailure(t *testing.T) {
	fetcher := &fakeFetcher{respond: okResponder}
	bootstrap := &fakeBootstrapper{err: errors.New("browser crashed")}
	svc := setupService(t, fetcher, bootstrap)

	_, err := svc.ScrapeFlights(context.Background(), testRequest())
	require.Error(t, err)
	require.Contains(t, err.Error(), "browser crashed")
	require.Empty(t, fetcher.calls)
}

func TestScrapeFlightsReconcilesCookieExpiration(t *testing.T) {
	fetcher := &fakeFetcher{respond: okResponder}
	svc := setupService(t, fetcher, &fakeBootstrapper{})

	_, err := svc.ScrapeFlights(context.Background(), testRequest())
	require.NoError(t, err)

	cached, err := svc.qry.GetLatestValidCookieCache(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1765816200), cached.ExpirationTimestamp)
}

func TestRunJobCompletes(t *testing.T) {
	fetcher := &fakeFetcher{respond: okResponder}
	svc := setupService(t, fetcher, &fakeBootstrapper{})
	ctx := context.Background()

	id, err := svc.CreateJob(ctx, testRequest())
	require.NoError(t, err)

	svc.RunJob(ctx, id, testRequest())

	job, err := svc.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, db.ScrapeStatusCompleted, job.Status)
	require.Equal(t, int64(1), job.TotalFlights.Int64)
	require.Equal(t, 1.2, job.AvgCpp.Float64)
	require.True(t, job.CompletedAt.Valid)

	var result ScrapeResult
	require.NoError(t, json.Unmarshal([]byte(job.Results.String), &result))
	require.Equal(t, 1, result.TotalResults)
}

func TestRunJobRecordsFailure(t *testing.T) {
	fetcher := &fakeFetcher{respond: rejectedResponder}
	svc := setupService(t, fetcher, &fakeBootstrapper{})
	ctx := context.Background()

	id, err := svc.CreateJob(ctx, testRequest())
	require.NoError(t, err)

	svc.RunJob(ctx, id, testRequest())

	job, err := svc.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, db.ScrapeStatusFailed, job.Status)
	require.Contains(t, job.Error.String, "cookie attempts")
}

func TestRunJobYieldsWhenSlotTaken(t *testing.T) {
	fetcher := &fakeFetcher{respond: okResponder}
	svc := setupService(t, fetcher, &fakeBootstrapper{})
	ctx := context.Background()

	blocker, err := svc.CreateJob(ctx, testRequest())
	require.NoError(t, err)
	started, err := svc.TryStartJob(ctx, blocker)
	require.NoError(t, err)
	require.True(t, started)

	id, err := svc.CreateJob(ctx, testRequest())
	require.NoError(t, err)
	svc.RunJob(ctx, id, testRequest())

	job, err := svc.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, db.ScrapeStatusFailed, job.Status)
	require.Empty(t, fetcher.calls)
}

func TestCompleteJobAveragesCpp(t *testing.T) {
	svc := setupService(t, &fakeFetcher{respond: okResponder}, &fakeBootstrapper{})
	ctx := context.Background()

	id, err := svc.CreateJob(ctx, testRequest())
	require.NoError(t, err)
	started, err := svc.TryStartJob(ctx, id)
	require.NoError(t, err)
	require.True(t, started)

	result := &ScrapeResult{
		Flights: []NormalizedFlight{{Cpp: 1.0}, {Cpp: 2.0}, {Cpp: 3.0}},
	}
	require.NoError(t, svc.CompleteJob(ctx, id, result))

	job, err := svc.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(3), job.TotalFlights.Int64)
	require.Equal(t, 2.0, job.AvgCpp.Float64)
}

func TestCurrentRunningJobID(t *testing.T) {
	svc := setupService(t, &fakeFetcher{respond: okResponder}, &fakeBootstrapper{})
	ctx := context.Background()

	_, running, err := svc.CurrentRunningJobID(ctx)
	require.NoError(t, err)
	require.False(t, running)

	id, err := svc.CreateJob(ctx, testRequest())
	require.NoError(t, err)
	started, err := svc.TryStartJob(ctx, id)
	require.NoError(t, err)
	require.True(t, started)

	got, running, err := svc.CurrentRunningJobID(ctx)
	require.NoError(t, err)
	require.True(t, running)
	require.Equal(t, id, got)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
