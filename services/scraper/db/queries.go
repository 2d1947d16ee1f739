package db

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type CreateCookieCacheParams struct {
	CookiesJson         string
	ExpirationTimestamp int64
	CreatedAt           string
}

const createCookieCache = `
INSERT INTO cookie_cache (cookies_json, expiration_timestamp, created_at, is_valid)
VALUES (?, ?, ?, 1)
`

func (q *Queries) CreateCookieCache(ctx context.Context, arg CreateCookieCacheParams) error {
	_, err := q.db.ExecContext(ctx, createCookieCache,
		arg.CookiesJson, arg.ExpirationTimestamp, arg.CreatedAt)
	return err
}

const getLatestValidCookieCache = `
SELECT id, cookies_json, expiration_timestamp, created_at, is_valid
FROM cookie_cache
WHERE is_valid = 1
ORDER BY id DESC
LIMIT 1
`

func (q *Queries) GetLatestValidCookieCache(ctx context.Context) (CookieCache, error) {
	row := q.db.QueryRowContext(ctx, getLatestValidCookieCache)
	var c CookieCache
	err := row.Scan(&c.ID, &c.CookiesJson, &c.ExpirationTimestamp, &c.CreatedAt, &c.IsValid)
	return c, err
}

const pruneCookieCache = `
DELETE FROM cookie_cache
WHERE id NOT IN (
    SELECT id FROM cookie_cache ORDER BY id DESC LIMIT ?
)
`

// PruneCookieCache deletes all but the keepLastN most recent entries,
// by id rather than by timestamp.
func (q *Queries) PruneCookieCache(ctx context.Context, keepLastN int64) error {
	_, err := q.db.ExecContext(ctx, pruneCookieCache, keepLastN)
	return err
}

const updateLatestCookieExpiration = `
UPDATE cookie_cache
SET expiration_timestamp = ?
WHERE id = (SELECT MAX(id) FROM cookie_cache)
`

func (q *Queries) UpdateLatestCookieExpiration(ctx context.Context, expirationTimestamp int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateLatestCookieExpiration, expirationTimestamp)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type CreateScrapeParams struct {
	Origin      string
	Destination string
	Date        string
	Passengers  int64
	CabinClass  string
	StartedAt   string
}

const createScrape = `
INSERT INTO scrapes (origin, destination, date, passengers, cabin_class, status, started_at)
VALUES (?, ?, ?, ?, ?, 'queued', ?)
`

func (q *Queries) CreateScrape(ctx context.Context, arg CreateScrapeParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, createScrape,
		arg.Origin, arg.Destination, arg.Date, arg.Passengers, arg.CabinClass, arg.StartedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const scrapeColumns = `id, origin, destination, date, passengers, cabin_class,
status, started_at, completed_at, results, error, total_flights, avg_cpp`

func scanScrape(row interface{ Scan(...any) error }) (Scrape, error) {
	var s Scrape
	err := row.Scan(
		&s.ID, &s.Origin, &s.Destination, &s.Date, &s.Passengers, &s.CabinClass,
		&s.Status, &s.StartedAt, &s.CompletedAt, &s.Results, &s.Error,
		&s.TotalFlights, &s.AvgCpp,
	)
	return s, err
}

func (q *Queries) GetScrape(ctx context.Context, id int64) (Scrape, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+scrapeColumns+` FROM scrapes WHERE id = ?`, id)
	return scanScrape(row)
}

type ListScrapesParams struct {
	Limit  int64
	Offset int64
}

func (q *Queries) ListScrapes(ctx context.Context, arg ListScrapesParams) ([]Scrape, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+scrapeColumns+` FROM scrapes ORDER BY started_at DESC LIMIT ? OFFSET ?`,
		arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Scrape
	for rows.Next() {
		s, err := scanScrape(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (q *Queries) GetLatestCompletedScrape(ctx context.Context) (Scrape, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+scrapeColumns+` FROM scrapes
		WHERE status = 'completed'
		ORDER BY completed_at DESC
		LIMIT 1`)
	return scanScrape(row)
}

func (q *Queries) GetRunningScrape(ctx context.Context) (Scrape, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+scrapeColumns+` FROM scrapes WHERE status = 'running' LIMIT 1`)
	return scanScrape(row)
}

func (q *Queries) CountRunningScrapes(ctx context.Context) (int64, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scrapes WHERE status = 'running'`)
	var count int64
	err := row.Scan(&count)
	return count, err
}

func (q *Queries) DeleteScrape(ctx context.Context, id int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM scrapes WHERE id = ?`, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type CompleteScrapeParams struct {
	ID           int64
	CompletedAt  string
	Results      string
	TotalFlights int64
	AvgCpp       float64
}

const completeScrape = `
UPDATE scrapes
SET status = 'completed',
    completed_at = ?,
    results = ?,
    total_flights = ?,
    avg_cpp = ?
WHERE id = ? AND status = 'running'
`

func (q *Queries) CompleteScrape(ctx context.Context, arg CompleteScrapeParams) error {
	_, err := q.db.ExecContext(ctx, completeScrape,
		arg.CompletedAt, arg.Results, arg.TotalFlights, arg.AvgCpp, arg.ID)
	return err
}

type FailScrapeParams struct {
	ID          int64
	CompletedAt string
	Error       string
}

const failScrape = `
UPDATE scrapes
SET status = 'failed',
    completed_at = ?,
    error = ?
WHERE id = ? AND status IN ('queued', 'running')
`

func (q *Queries) FailScrape(ctx context.Context, arg FailScrapeParams) error {
	_, err := q.db.ExecContext(ctx, failScrape, arg.CompletedAt, arg.Error, arg.ID)
	return err
}
