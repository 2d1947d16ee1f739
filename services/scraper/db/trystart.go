package db

import (
	"context"
	"database/sql"
	"errors"
)

// TryStartScrape atomically transitions a queued scrape to running,
// but only when no other scrape is running. It returns false with no
// side effects when another job holds the slot or when this job is not
// queued.
//
// The check-then-update must not interleave with a concurrent caller's,
// so the transaction is opened with BEGIN IMMEDIATE: the write lock is
// taken up front instead of on first write. A deferred transaction
// would let two callers both read "no running scrapes" before either
// commits.
func TryStartScrape(ctx context.Context, database *sql.DB, id int64) (started bool, err error) {
	conn, err := database.Conn(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			_, rollbackErr := conn.ExecContext(ctx, "ROLLBACK")
			err = errors.Join(err, rollbackErr)
		}
	}()

	var running int64
	err = conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scrapes WHERE status = 'running'`).Scan(&running)
	if err != nil {
		return false, err
	}
	if running > 0 {
		_, err = conn.ExecContext(ctx, "ROLLBACK")
		return false, err
	}

	res, err := conn.ExecContext(ctx,
		`UPDATE scrapes SET status = 'running' WHERE id = ? AND status = 'queued'`, id)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	if _, err = conn.ExecContext(ctx, "COMMIT"); err != nil {
		return false, err
	}
	return rows > 0, nil
}

// Checkpoint forces the WAL out to the main database file. The store
// may live on a volume-mounted filesystem whose write visibility to a
// sibling container is not otherwise guaranteed within the same run.
func Checkpoint(ctx context.Context, database *sql.DB) error {
	_, err := database.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}
