package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"pointval-backend/services/scraper"
	"pointval-backend/services/scraper/db"
)

var iataCode = regexp.MustCompile(`^[A-Z]{3}$`)

type scrapeRequest struct {
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	Date        string `json:"date"`
	Passengers  int    `json:"passengers"`
	CabinClass  string `json:"cabin_class"`
}

func (r *scrapeRequest) validate() error {
	r.Origin = strings.ToUpper(strings.TrimSpace(r.Origin))
	r.Destination = strings.ToUpper(strings.TrimSpace(r.Destination))
	if !iataCode.MatchString(r.Origin) {
		return fmt.Errorf("origin must be a 3-letter IATA code")
	}
	if !iataCode.MatchString(r.Destination) {
		return fmt.Errorf("destination must be a 3-letter IATA code")
	}
	if r.Origin == r.Destination {
		return fmt.Errorf("origin and destination must differ")
	}
	if _, err := time.Parse("2006-01-02", r.Date); err != nil {
		return fmt.Errorf("date must be YYYY-MM-DD")
	}
	if r.Passengers == 0 {
		r.Passengers = 1
	}
	if r.Passengers < 1 || r.Passengers > 9 {
		return fmt.Errorf("passengers must be between 1 and 9")
	}
	if r.CabinClass == "" {
		r.CabinClass = "economy"
	}
	return nil
}

// scrapeView is a stored job shaped for JSON responses. Results are
// only attached on single-job reads.
type scrapeView struct {
	ID           int64           `json:"id"`
	Origin       string          `json:"origin"`
	Destination  string          `json:"destination"`
	Date         string          `json:"date"`
	Passengers   int64           `json:"passengers"`
	CabinClass   string          `json:"cabin_class"`
	Status       string          `json:"status"`
	StartedAt    string          `json:"started_at"`
	CompletedAt  *string         `json:"completed_at"`
	TotalFlights *int64          `json:"total_flights"`
	AvgCpp       *float64        `json:"avg_cpp"`
	Error        *string         `json:"error"`
	Results      json.RawMessage `json:"results,omitempty"`
}

func newScrapeView(s db.Scrape, withResults bool) scrapeView {
	view := scrapeView{
		ID:          s.ID,
		Origin:      s.Origin,
		Destination: s.Destination,
		Date:        s.Date,
		Passengers:  s.Passengers,
		CabinClass:  s.CabinClass,
		Status:      s.Status,
		StartedAt:   s.StartedAt,
	}
	if s.CompletedAt.Valid {
		view.CompletedAt = &s.CompletedAt.String
	}
	if s.TotalFlights.Valid {
		view.TotalFlights = &s.TotalFlights.Int64
	}
	if s.AvgCpp.Valid {
		view.AvgCpp = &s.AvgCpp.Float64
	}
	if s.Error.Valid {
		view.Error = &s.Error.String
	}
	if withResults && s.Results.Valid {
		view.Results = json.RawMessage(s.Results.String)
	}
	return view
}

func (s *Server) triggerScrape(c echo.Context) error {
	var req scrapeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := req.validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	if running, err := s.scrapers.IsJobRunning(ctx); err != nil {
		return err
	} else if running {
		return echo.NewHTTPError(http.StatusConflict, "a scrape is already running")
	}

	job := scraper.ScrapeRequest{
		Origin:      req.Origin,
		Destination: req.Destination,
		Date:        req.Date,
		Passengers:  req.Passengers,
		CabinClass:  req.CabinClass,
	}
	id, err := s.scrapers.CreateJob(ctx, job)
	if err != nil {
		return err
	}

	// the job outlives the request, it must not inherit its context
	go s.scrapers.RunJob(context.WithoutCancel(ctx), id, job)

	return c.JSON(http.StatusAccepted, map[string]any{
		"scrape_id": id,
		"status":    db.ScrapeStatusQueued,
	})
}

func (s *Server) listScrapes(c echo.Context) error {
	limit := queryInt(c, "limit", 20)
	if limit < 1 || limit > 100 {
		return echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 100")
	}
	offset := queryInt(c, "offset", 0)
	if offset < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "offset must not be negative")
	}

	scrapes, err := s.scrapers.ListJobs(c.Request().Context(), limit, offset)
	if err != nil {
		return err
	}
	views := make([]scrapeView, 0, len(scrapes))
	for _, scrape := range scrapes {
		views = append(views, newScrapeView(scrape, false))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"scrapes": views,
		"limit":   limit,
		"offset":  offset,
	})
}

func (s *Server) getScrape(c echo.Context) error {
	id, err := pathId(c)
	if err != nil {
		return err
	}
	scrape, err := s.scrapers.GetJob(c.Request().Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		return echo.NewHTTPError(http.StatusNotFound, "scrape not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newScrapeView(scrape, true))
}

func (s *Server) latestCompletedScrape(c echo.Context) error {
	scrape, err := s.scrapers.LatestCompletedJob(c.Request().Context())
	if errors.Is(err, sql.ErrNoRows) {
		return echo.NewHTTPError(http.StatusNotFound, "no completed scrapes yet")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newScrapeView(scrape, true))
}

func (s *Server) deleteScrape(c echo.Context) error {
	id, err := pathId(c)
	if err != nil {
		return err
	}
	deleted, err := s.scrapers.DeleteJob(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if !deleted {
		return echo.NewHTTPError(http.StatusNotFound, "scrape not found")
	}
	return c.JSON(http.StatusOK, map[string]any{"deleted": id})
}

// comparisonEntry summarizes one completed scrape for side-by-side
// route comparison.
type comparisonEntry struct {
	ID           int64    `json:"id"`
	Route        string   `json:"route"`
	Date         string   `json:"date"`
	TotalFlights *int64   `json:"total_flights"`
	AvgCpp       *float64 `json:"avg_cpp"`
	BestCpp      float64  `json:"best_cpp"`
}

func (s *Server) compareScrapes(c echo.Context) error {
	raw := strings.TrimSpace(c.QueryParam("ids"))
	if raw == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "ids query parameter is required")
	}
	parts := strings.Split(raw, ",")
	if len(parts) > 10 {
		return echo.NewHTTPError(http.StatusBadRequest, "at most 10 scrapes can be compared")
	}

	ctx := c.Request().Context()
	entries := make([]comparisonEntry, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest,
				fmt.Sprintf("invalid scrape id %q", part))
		}
		scrape, err := s.scrapers.GetJob(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound,
				fmt.Sprintf("scrape %d not found", id))
		}
		if err != nil {
			return err
		}
		if scrape.Status != db.ScrapeStatusCompleted {
			return echo.NewHTTPError(http.StatusBadRequest,
				fmt.Sprintf("scrape %d has not completed", id))
		}

		entry := comparisonEntry{
			ID:    scrape.ID,
			Route: scrape.Origin + "-" + scrape.Destination,
			Date:  scrape.Date,
		}
		if scrape.TotalFlights.Valid {
			entry.TotalFlights = &scrape.TotalFlights.Int64
		}
		if scrape.AvgCpp.Valid {
			entry.AvgCpp = &scrape.AvgCpp.Float64
		}
		if scrape.Results.Valid {
			var result scraper.ScrapeResult
			if err := json.Unmarshal([]byte(scrape.Results.String), &result); err == nil {
				for _, f := range result.Flights {
					if f.Cpp > entry.BestCpp {
						entry.BestCpp = f.Cpp
					}
				}
			}
		}
		entries = append(entries, entry)
	}

	return c.JSON(http.StatusOK, map[string]any{"comparisons": entries})
}

func queryInt(c echo.Context, name string, fallback int64) int64 {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return -1
	}
	return value
}

func pathId(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid scrape id")
	}
	return id, nil
}
