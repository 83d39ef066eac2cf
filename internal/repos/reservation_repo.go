package repos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"storefront/internal/domain"
)

type ReservationRepo struct{ db *sqlx.DB }

func NewReservationRepo(db *sqlx.DB) *ReservationRepo { return &ReservationRepo{db: db} }

const reservationCols = `id, product_variant_id, warehouse_id, quantity, source_type, source_id,
	expires_at, status, created_at, updated_at`

// Insert writes a new active reservation and fills in its id.
func (r *ReservationRepo) Insert(ctx context.Context, q sqlx.ExtContext, res *domain.Reservation) error {
	return sqlx.GetContext(ctx, q, &res.ID, q.Rebind(`
		INSERT INTO stock_reservations
		  (product_variant_id, warehouse_id, quantity, source_type, source_id, expires_at, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`), res.VariantID, res.WarehouseID, res.Quantity, res.SourceType, res.SourceID,
		res.ExpiresAt, res.Status, res.CreatedAt, res.UpdatedAt)
}

// BySource lists every reservation of a source, any status.
func (r *ReservationRepo) BySource(ctx context.Context, q sqlx.ExtContext, src domain.Source) ([]domain.Reservation, error) {
	out := []domain.Reservation{}
	err := sqlx.SelectContext(ctx, q, &out, q.Rebind(`SELECT `+reservationCols+`
		FROM stock_reservations
		WHERE source_type = ? AND source_id = ?
		ORDER BY id`), src.Type, src.ID)
	return out, err
}

// LockActiveBySource returns the active reservations of a source, locking the
// rows (by id order) on postgres so consumption and release of one source
// cannot interleave.
func (r *ReservationRepo) LockActiveBySource(ctx context.Context, tx *sqlx.Tx, src domain.Source) ([]domain.Reservation, error) {
	out := []domain.Reservation{}
	err := tx.SelectContext(ctx, &out, tx.Rebind(`SELECT `+reservationCols+`
		FROM stock_reservations
		WHERE source_type = ? AND source_id = ? AND status = 'active'
		ORDER BY id`+forUpdate(tx)), src.Type, src.ID)
	return out, err
}

// ExpireBySource flips every active reservation of a source to expired.
func (r *ReservationRepo) ExpireBySource(ctx context.Context, q sqlx.ExtContext, src domain.Source, now time.Time) (int64, error) {
	res, err := q.ExecContext(ctx, q.Rebind(`
		UPDATE stock_reservations SET status = 'expired', updated_at = ?
		WHERE source_type = ? AND source_id = ? AND status = 'active'
	`), now, src.Type, src.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkConsumed flips one reservation to consumed if it is still active. The
// returned bool is false when somebody else already moved it out of active.
func (r *ReservationRepo) MarkConsumed(ctx context.Context, q sqlx.ExtContext, id int64, now time.Time) (bool, error) {
	res, err := q.ExecContext(ctx, q.Rebind(`
		UPDATE stock_reservations SET status = 'consumed', updated_at = ?
		WHERE id = ? AND status = 'active'
	`), now, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ExpireStale expires every active reservation whose expiry is before now and
// returns the distinct sources that lost reservations.
func (r *ReservationRepo) ExpireStale(ctx context.Context, q sqlx.ExtContext, now time.Time) ([]domain.Source, error) {
	var rows []struct {
		SourceType domain.SourceType `db:"source_type"`
		SourceID   string            `db:"source_id"`
	}
	err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(`
		UPDATE stock_reservations SET status = 'expired', updated_at = ?
		WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at < ?
		RETURNING source_type, source_id
	`), now, now)
	if err != nil {
		return nil, err
	}
	seen := make(map[domain.Source]bool, len(rows))
	var out []domain.Source
	for _, row := range rows {
		s := domain.Source{Type: row.SourceType, ID: row.SourceID}
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out, nil
}
