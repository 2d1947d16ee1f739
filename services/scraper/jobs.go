package scraper

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pointval-backend/services/scraper/db"
)

// CreateJob records a queued scrape and returns its id.
func (s *Service) CreateJob(ctx context.Context, req ScrapeRequest) (int64, error) {
	return s.qry.CreateScrape(ctx, db.CreateScrapeParams{
		Origin:      req.Origin,
		Destination: req.Destination,
		Date:        req.Date,
		Passengers:  int64(req.Passengers),
		CabinClass:  req.CabinClass,
		StartedAt:   s.now().UTC().Format(time.RFC3339),
	})
}

// TryStartJob transitions a queued job to running. It returns false
// without starting when another job already holds the running slot.
func (s *Service) TryStartJob(ctx context.Context, id int64) (bool, error) {
	return db.TryStartScrape(ctx, s.db, id)
}

// CompleteJob stores the result payload along with the flight count
// and average valuation used by the listing views.
func (s *Service) CompleteJob(ctx context.Context, id int64, result *ScrapeResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding scrape result: %w", err)
	}

	var avgCpp float64
	if len(result.Flights) > 0 {
		for _, f := range result.Flights {
			avgCpp += f.Cpp
		}
		avgCpp /= float64(len(result.Flights))
	}

	return s.qry.CompleteScrape(ctx, db.CompleteScrapeParams{
		ID:           id,
		CompletedAt:  s.now().UTC().Format(time.RFC3339),
		Results:      string(raw),
		TotalFlights: int64(len(result.Flights)),
		AvgCpp:       avgCpp,
	})
}

func (s *Service) FailJob(ctx context.Context, id int64, cause string) error {
	return s.qry.FailScrape(ctx, db.FailScrapeParams{
		ID:          id,
		CompletedAt: s.now().UTC().Format(time.RFC3339),
		Error:       cause,
	})
}

func (s *Service) GetJob(ctx context.Context, id int64) (db.Scrape, error) {
	return s.qry.GetScrape(ctx, id)
}

func (s *Service) ListJobs(ctx context.Context, limit, offset int64) ([]db.Scrape, error) {
	return s.qry.ListScrapes(ctx, db.ListScrapesParams{Limit: limit, Offset: offset})
}

func (s *Service) LatestCompletedJob(ctx context.Context) (db.Scrape, error) {
	return s.qry.GetLatestCompletedScrape(ctx)
}

func (s *Service) DeleteJob(ctx context.Context, id int64) (bool, error) {
	rows, err := s.qry.DeleteScrape(ctx, id)
	return rows > 0, err
}

// IsJobRunning reports whether the single running slot is occupied.
func (s *Service) IsJobRunning(ctx context.Context) (bool, error) {
	count, err := s.qry.CountRunningScrapes(ctx)
	return count > 0, err
}

// CurrentRunningJobID returns the id of the running job, if any.
func (s *Service) CurrentRunningJobID(ctx context.Context) (int64, bool, error) {
	scrape, err := s.qry.GetRunningScrape(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return scrape.ID, true, nil
}

// RunJob drives a queued job through its full lifecycle: claim the
// running slot, scrape, and record the outcome. It is safe to call
// from a background goroutine; every failure path lands in the store.
func (s *Service) RunJob(ctx context.Context, id int64, req ScrapeRequest) {
	started, err := s.TryStartJob(ctx, id)
	if err != nil {
		slog.ErrorContext(ctx, "claiming running slot", "job", id, "err", err)
		if failErr := s.FailJob(ctx, id, err.Error()); failErr != nil {
			slog.ErrorContext(ctx, "recording job failure", "job", id, "err", failErr)
		}
		return
	}
	if !started {
		slog.InfoContext(ctx, "another scrape is already running", "job", id)
		if err := s.FailJob(ctx, id, "another scrape is already running"); err != nil {
			slog.ErrorContext(ctx, "recording job failure", "job", id, "err", err)
		}
		return
	}

	result, err := s.ScrapeFlights(ctx, req)
	if err != nil {
		slog.ErrorContext(ctx, "scrape job failed", "job", id, "err", err)
		if failErr := s.FailJob(ctx, id, err.Error()); failErr != nil {
			slog.ErrorContext(ctx, "recording job failure", "job", id, "err", failErr)
		}
		return
	}
	if err := s.CompleteJob(ctx, id, result); err != nil {
		slog.ErrorContext(ctx, "recording job result", "job", id, "err", err)
		if failErr := s.FailJob(ctx, id, err.Error()); failErr != nil {
			slog.ErrorContext(ctx, "recording job failure", "job", id, "err", failErr)
		}
	}
}
