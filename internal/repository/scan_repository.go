package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"plantscan/api/internal/models"
)

var (
	ErrScanCounterNotFound = errors.New("scan counter not found")
	ErrNoReservation       = errors.New("no reserved scan to release")
)

type ScanRepository struct {
	db DB
}

func NewScanRepository(db DB) *ScanRepository {
	return &ScanRepository{db: db}
}

const counterColumns = "user_id, scan_date, scan_count, reserved_count, updated_at"

func (r *ScanRepository) Get(ctx context.Context, userID, day string) (models.ScanCounter, error) {
	const query = `
		SELECT ` + counterColumns + `
		FROM scan_counters
		WHERE user_id = $1 AND scan_date = $2
	`
	return scanCounter(r.db.QueryRow(ctx, query, userID, day))
}

// Increment adds one to the day's counter, creating it at 1. The upsert runs
// as a single statement so concurrent increments are never lost.
func (r *ScanRepository) Increment(ctx context.Context, userID, day string) (models.ScanCounter, error) {
	const query = `
		INSERT INTO scan_counters (user_id, scan_date, scan_count, updated_at)
		VALUES ($1, $2, 1, NOW())
		ON CONFLICT (user_id, scan_date)
		DO UPDATE SET scan_count = scan_counters.scan_count + 1, updated_at = NOW()
		RETURNING ` + counterColumns
	return scanCounter(r.db.QueryRow(ctx, query, userID, day))
}

// Reserve takes one scan and records it as releasable. A positive limit
// caps the counter; when it is reached Reserve reports false with the
// unchanged counter. A limit of zero or less reserves unconditionally.
func (r *ScanRepository) Reserve(ctx context.Context, userID, day string, limit int) (models.ScanCounter, bool, error) {
	const query = `
		INSERT INTO scan_counters (user_id, scan_date, scan_count, reserved_count, updated_at)
		VALUES ($1, $2, 1, 1, NOW())
		ON CONFLICT (user_id, scan_date)
		DO UPDATE SET
			scan_count = scan_counters.scan_count + 1,
			reserved_count = scan_counters.reserved_count + 1,
			updated_at = NOW()
		WHERE $3 <= 0 OR scan_counters.scan_count < $3
		RETURNING ` + counterColumns
	counter, err := scanCounter(r.db.QueryRow(ctx, query, userID, day, limit))
	if err == nil {
		return counter, true, nil
	}
	if !errors.Is(err, ErrScanCounterNotFound) {
		return models.ScanCounter{}, false, err
	}

	current, err := r.Get(ctx, userID, day)
	if err != nil {
		return models.ScanCounter{}, false, err
	}
	return current, false, nil
}

// Release gives back one reserved scan. Scans that were only incremented
// cannot be released; ErrNoReservation is returned when nothing is reserved.
func (r *ScanRepository) Release(ctx context.Context, userID, day string) (models.ScanCounter, error) {
	const query = `
		UPDATE scan_counters
		SET scan_count = scan_count - 1, reserved_count = reserved_count - 1, updated_at = NOW()
		WHERE user_id = $1 AND scan_date = $2 AND reserved_count > 0 AND scan_count > 0
		RETURNING ` + counterColumns
	counter, err := scanCounter(r.db.QueryRow(ctx, query, userID, day))
	if err == nil {
		return counter, nil
	}
	if !errors.Is(err, ErrScanCounterNotFound) {
		return models.ScanCounter{}, err
	}

	if _, err := r.Get(ctx, userID, day); err != nil {
		return models.ScanCounter{}, err
	}
	return models.ScanCounter{}, ErrNoReservation
}

func scanCounter(row pgx.Row) (models.ScanCounter, error) {
	var counter models.ScanCounter
	if err := row.Scan(
		&counter.UserID,
		&counter.ScanDate,
		&counter.ScanCount,
		&counter.Reserved,
		&counter.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ScanCounter{}, ErrScanCounterNotFound
		}
		return models.ScanCounter{}, err
	}
	return counter, nil
}
