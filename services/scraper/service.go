package scraper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"pointval-backend/lib/scrapers/aa"
	"pointval-backend/services/scraper/db"
)

var tracer = otel.Tracer("services/scraper")

// maxCookieAttempts bounds how many cookie generations one scrape may
// burn through before it is declared failed. Each generation gets the
// full per-call retry budget of the underlying client.
const maxCookieAttempts = 3

// Fetcher calls the itinerary search endpoint with a cookie snapshot.
type Fetcher interface {
	FetchItineraries(ctx context.Context, cookies map[string]string, req aa.SearchRequest) (*aa.ItineraryResponse, error)
}

// Bootstrapper harvests a fresh anti-bot cookie set, typically by
// driving a real browser.
type Bootstrapper interface {
	Bootstrap(ctx context.Context) (map[string]string, error)
}

type Service struct {
	db        *sql.DB
	qry       *db.Queries
	fetcher   Fetcher
	bootstrap Bootstrapper
	now       func() time.Time
}

func NewService(database *sql.DB, fetcher Fetcher, bootstrap Bootstrapper) *Service {
	return &Service{
		db:        database,
		qry:       db.New(database),
		fetcher:   fetcher,
		bootstrap: bootstrap,
		now:       time.Now,
	}
}

// ScrapeFlights runs both pricing searches for the requested route and
// returns the correlated valuation. When the API rejects a cookie set
// the cache is bypassed and a fresh set is harvested, up to
// maxCookieAttempts generations.
func (s *Service) ScrapeFlights(ctx context.Context, req ScrapeRequest) (*ScrapeResult, error) {
	ctx, span := tracer.Start(ctx, "ScrapeFlights")
	defer span.End()
	span.SetAttributes(
		attribute.String("origin", req.Origin),
		attribute.String("destination", req.Destination),
		attribute.String("date", req.Date),
		attribute.Int("passengers", req.Passengers),
	)

	var attemptErrs []error
	for attempt := 1; attempt <= maxCookieAttempts; attempt++ {
		// after the first attempt the cached cookies have already been
		// rejected, so go straight to a fresh harvest
		cookies, err := s.workingCookies(ctx, attempt > 1)
		if err != nil {
			attemptErrs = append(attemptErrs, fmt.Errorf("attempt %d: %w", attempt, err))
			slog.WarnContext(ctx, "obtaining cookies failed", "attempt", attempt, "err", err)
			continue
		}

		award, cash, err := s.fetchBoth(ctx, cookies, req)
		if err != nil {
			attemptErrs = append(attemptErrs, fmt.Errorf("attempt %d: %w", attempt, err))
			if aa.IsCookiesRejected(err) {
				slog.WarnContext(ctx, "cookies rejected, harvesting fresh set",
					"attempt", attempt, "err", err)
				continue
			}
			// server and network failures already exhausted the
			// per-call retry budget; fresh cookies are the only
			// coarser recovery left, so burn an attempt on them
			slog.WarnContext(ctx, "itinerary search failed", "attempt", attempt, "err", err)
			continue
		}

		s.reconcileExpiration(ctx, sessionExpiration(award, cash))

		flights := correlateFlights(award.Slices, cash.Slices, req.Passengers)
		slog.InfoContext(ctx, "scrape finished",
			"award_flights", len(award.Slices),
			"cash_flights", len(cash.Slices),
			"matched", len(flights))
		return &ScrapeResult{
			SearchMetadata: SearchMetadata{
				Origin:      req.Origin,
				Destination: req.Destination,
				Date:        req.Date,
				Passengers:  req.Passengers,
				CabinClass:  req.CabinClass,
			},
			Flights:      flights,
			TotalResults: len(flights),
		}, nil
	}

	err := fmt.Errorf("scrape failed after %d cookie attempts: %w",
		maxCookieAttempts, errors.Join(attemptErrs...))
	span.RecordError(err)
	span.SetStatus(codes.Error, "scrape failed")
	return nil, err
}

// fetchBoth issues the Award and Revenue searches concurrently against
// the same cookie snapshot. Submission order is shuffled so the two
// request shapes do not always hit the API in the same sequence.
func (s *Service) fetchBoth(
	ctx context.Context,
	cookies map[string]string,
	req ScrapeRequest,
) (award, cash *aa.ItineraryResponse, err error) {
	kinds := []aa.SearchKind{aa.SearchAward, aa.SearchRevenue}
	if flip, err := random.IntRange(0, 2); err == nil && flip == 1 {
		kinds[0], kinds[1] = kinds[1], kinds[0]
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[aa.SearchKind]*aa.ItineraryResponse, len(kinds))
		errs    = make(map[aa.SearchKind]error, len(kinds))
	)
	for _, kind := range kinds {
		wg.Add(1)
		go func(kind aa.SearchKind) {
			defer wg.Done()
			res, err := s.fetcher.FetchItineraries(ctx, cookies, aa.SearchRequest{
				Kind:        kind,
				Origin:      req.Origin,
				Destination: req.Destination,
				Date:        req.Date,
				Passengers:  req.Passengers,
			})
			mu.Lock()
			defer mu.Unlock()
			results[kind] = res
			errs[kind] = err
		}(kind)
	}
	wg.Wait()

	if err := errors.Join(errs[aa.SearchAward], errs[aa.SearchRevenue]); err != nil {
		return nil, nil, err
	}
	return results[aa.SearchAward], results[aa.SearchRevenue], nil
}

// sessionExpiration picks the first authoritative session expiration
// reported by either response, in epoch milliseconds.
func sessionExpiration(responses ...*aa.ItineraryResponse) int64 {
	for _, res := range responses {
		if res != nil && res.ResponseMetadata.SessionExpirationTime > 0 {
			return res.ResponseMetadata.SessionExpirationTime
		}
	}
	return 0
}
