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

const (
	// cached cookies this close to their recorded expiry are treated
	// as already dead, the sensor value decays before the timestamp
	cookieExpiryBuffer = 300 * time.Second
	// assumed lifetime for freshly harvested cookies until the API
	// reports an authoritative session expiration
	defaultCookieTtl = time.Hour
	// how many cache rows survive a prune
	cookieCacheKeep = 5
)

// workingCookies returns a cookie set believed good enough to call the
// itinerary API with. The cached set is preferred unless forceFresh is
// set or the cache entry is missing, corrupt, or inside the expiry
// buffer, in which case a browser bootstrap harvests a new one.
func (s *Service) workingCookies(ctx context.Context, forceFresh bool) (map[string]string, error) {
	ctx, span := tracer.Start(ctx, "workingCookies")
	defer span.End()

	if !forceFresh {
		if cookies, ok := s.cachedCookies(ctx); ok {
			return cookies, nil
		}
	}

	cookies, err := s.bootstrap.Bootstrap(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("bootstrapping cookies: %w", err)
	}

	raw, err := json.Marshal(cookies)
	if err != nil {
		return nil, fmt.Errorf("encoding cookies: %w", err)
	}
	err = s.qry.CreateCookieCache(ctx, db.CreateCookieCacheParams{
		CookiesJson:         string(raw),
		ExpirationTimestamp: s.now().Add(defaultCookieTtl).Unix(),
		CreatedAt:           s.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("persisting cookies: %w", err)
	}
	if err := s.qry.PruneCookieCache(ctx, cookieCacheKeep); err != nil {
		return nil, fmt.Errorf("pruning cookie cache: %w", err)
	}

	slog.InfoContext(ctx, "harvested fresh cookies", "count", len(cookies))
	return cookies, nil
}

func (s *Service) cachedCookies(ctx context.Context) (map[string]string, bool) {
	cached, err := s.qry.GetLatestValidCookieCache(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		slog.InfoContext(ctx, "no cached cookies, harvesting fresh")
		return nil, false
	}
	if err != nil {
		slog.WarnContext(ctx, "reading cookie cache", "err", err)
		return nil, false
	}

	remaining := time.Duration(cached.ExpirationTimestamp-s.now().Unix()) * time.Second
	if remaining <= cookieExpiryBuffer {
		slog.InfoContext(ctx, "cached cookies near expiry, harvesting fresh",
			"expires_in", remaining)
		return nil, false
	}

	var cookies map[string]string
	if err := json.Unmarshal([]byte(cached.CookiesJson), &cookies); err != nil {
		slog.WarnContext(ctx, "cached cookies are corrupt, harvesting fresh", "err", err)
		return nil, false
	}

	slog.InfoContext(ctx, "using cached cookies", "expires_in", remaining)
	return cookies, true
}

// reconcileExpiration repairs the recorded expiry of the newest cache
// entry using the session expiration the API reports alongside search
// results. The value arrives in epoch milliseconds. Failure here never
// fails the scrape that produced the responses.
func (s *Service) reconcileExpiration(ctx context.Context, expirationMs int64) {
	if expirationMs <= 0 {
		slog.DebugContext(ctx, "response carried no session expiration")
		return
	}

	rows, err := s.qry.UpdateLatestCookieExpiration(ctx, expirationMs/1000)
	if err != nil {
		slog.WarnContext(ctx, "updating cookie expiration", "err", err)
		return
	}
	if rows == 0 {
		return
	}
	if err := db.Checkpoint(ctx, s.db); err != nil {
		slog.WarnContext(ctx, "checkpointing after expiration update", "err", err)
	}
	slog.InfoContext(ctx, "reconciled cookie expiration from session metadata",
		"expires_in", time.Duration(expirationMs/1000-s.now().Unix())*time.Second)
}
