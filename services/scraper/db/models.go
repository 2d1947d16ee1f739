package db

import "database/sql"

const (
	ScrapeStatusQueued    = "queued"
	ScrapeStatusRunning   = "running"
	ScrapeStatusCompleted = "completed"
	ScrapeStatusFailed    = "failed"
)

type CookieCache struct {
	ID                  int64
	CookiesJson         string
	ExpirationTimestamp int64
	CreatedAt           string
	IsValid             bool
}

type Scrape struct {
	ID           int64
	Origin       string
	Destination  string
	Date         string
	Passengers   int64
	CabinClass   string
	Status       string
	StartedAt    string
	CompletedAt  sql.NullString
	Results      sql.NullString
	Error        sql.NullString
	TotalFlights sql.NullInt64
	AvgCpp       sql.NullFloat64
}
