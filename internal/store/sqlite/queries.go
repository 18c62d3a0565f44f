package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fusse/internal/model"
	"fusse/internal/store"
)

// txn implements store.Writer over one SQL transaction.
type txn struct {
	tx *sql.Tx
}

const reservationColumns = `
	SELECT r.id, r.reference, r.customer_id, r.table_id, t.number,
	       r.starts_at, r.ends_at, r.party_size, r.status, r.created_at, r.updated_at,
	       c.name, c.email
	FROM reservations r
	JOIN dining_tables t ON t.id = r.table_id
	JOIN customers c ON c.id = r.customer_id`

type scanner interface {
	Scan(dest ...any) error
}

func scanReservation(row scanner) (model.Reservation, error) {
	var (
		r                                  model.Reservation
		starts, ends, createdAt, updatedAt int64
		status                             string
	)
	err := row.Scan(&r.ID, &r.Reference, &r.CustomerID, &r.TableID, &r.TableNumber,
		&starts, &ends, &r.PartySize, &status, &createdAt, &updatedAt,
		&r.CustomerName, &r.CustomerEmail)
	if err != nil {
		return r, err
	}
	r.StartsAt = time.Unix(starts, 0).UTC()
	r.EndsAt = time.Unix(ends, 0).UTC()
	r.CreatedAt = time.Unix(createdAt, 0).UTC()
	r.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	r.Status = model.Status(status)
	return r, nil
}

func (t *txn) queryReservations(ctx context.Context, where string, args ...any) ([]model.Reservation, error) {
	rows, err := t.tx.QueryContext(ctx, reservationColumns+" "+where, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []model.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *txn) queryReservation(ctx context.Context, where string, args ...any) (*model.Reservation, error) {
	r, err := scanReservation(t.tx.QueryRowContext(ctx, reservationColumns+" "+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return &r, nil
}

func (t *txn) ActiveTables(ctx context.Context, minCapacity int) ([]model.Table, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, number, capacity, is_active
		FROM dining_tables
		WHERE is_active = 1 AND capacity >= ?
		ORDER BY id`, minCapacity)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var tables []model.Table
	for rows.Next() {
		var tb model.Table
		if err := rows.Scan(&tb.ID, &tb.Number, &tb.Capacity, &tb.IsActive); err != nil {
			return nil, err
		}
		tables = append(tables, tb)
	}
	return tables, rows.Err()
}

func (t *txn) MaxActiveCapacity(ctx context.Context) (int, error) {
	var capacity int
	err := t.tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(capacity), 0) FROM dining_tables WHERE is_active = 1`).Scan(&capacity)
	return capacity, classify(err)
}

func (t *txn) ConfirmedOverlapping(ctx context.Context, from, to time.Time) ([]model.Reservation, error) {
	return t.queryReservations(ctx, `
		WHERE r.status = 'confirmed' AND r.starts_at < ? AND r.ends_at > ?
		ORDER BY r.table_id, r.starts_at`, to.Unix(), from.Unix())
}

func (t *txn) IdleSince(ctx context.Context, at time.Time) (map[int64]time.Time, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT table_id, MAX(ends_at)
		FROM reservations
		WHERE status IN ('confirmed', 'completed') AND ends_at <= ?
		GROUP BY table_id`, at.Unix())
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := make(map[int64]time.Time)
	for rows.Next() {
		var (
			id  int64
			end int64
		)
		if err := rows.Scan(&id, &end); err != nil {
			return nil, err
		}
		out[id] = time.Unix(end, 0).UTC()
	}
	return out, rows.Err()
}

func (t *txn) Reservation(ctx context.Context, id int64) (*model.Reservation, error) {
	return t.queryReservation(ctx, `WHERE r.id = ?`, id)
}

func (t *txn) ReservationByReference(ctx context.Context, ref string) (*model.Reservation, error) {
	return t.queryReservation(ctx, `WHERE r.reference = ?`, ref)
}

func (t *txn) ReservationsBetween(ctx context.Context, from, to time.Time) ([]model.Reservation, error) {
	return t.queryReservations(ctx, `
		WHERE r.starts_at >= ? AND r.starts_at < ?
		ORDER BY r.starts_at, t.number`, from.Unix(), to.Unix())
}

func (t *txn) CustomerByEmail(ctx context.Context, email string) (*model.Customer, error) {
	var (
		c         model.Customer
		createdAt int64
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, name, email, COALESCE(phone, ''), created_at
		FROM customers WHERE email = ?`, email).
		Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	c.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &c, nil
}

func (t *txn) CreateCustomer(ctx context.Context, c *model.Customer) error {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO customers (name, email, phone, created_at) VALUES (?, ?, NULLIF(?, ''), ?)`,
		c.Name, c.Email, c.Phone, c.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert customer: %w", classify(err))
	}
	c.ID, err = res.LastInsertId()
	return err
}

// LockTables is a no-op: the writer transaction already holds SQLite's reserved lock.
func (t *txn) LockTables(context.Context, int) error { return nil }

func (t *txn) InsertReservation(ctx context.Context, r *model.Reservation) error {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO reservations (reference, customer_id, table_id, starts_at, ends_at, party_size, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Reference, r.CustomerID, r.TableID, r.StartsAt.Unix(), r.EndsAt.Unix(),
		r.PartySize, string(r.Status), r.CreatedAt.Unix(), r.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert reservation: %w", classify(err))
	}
	r.ID, err = res.LastInsertId()
	return err
}

func (t *txn) UpdateStatus(ctx context.Context, id int64, status model.Status, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE reservations SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), at.Unix(), id)
	if err != nil {
		return fmt.Errorf("update reservation %d: %w", id, classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
