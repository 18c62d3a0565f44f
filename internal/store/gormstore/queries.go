package gormstore

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fusse/internal/model"
	"fusse/internal/store"
)

// txn implements store.Writer on a gorm transaction.
type txn struct {
	db       *gorm.DB
	postgres bool
}

func (t *txn) reservations(ctx context.Context) *gorm.DB {
	return t.db.WithContext(ctx).Model(&reservationRow{}).Preload("Table").Preload("Customer")
}

func (t *txn) findReservations(q *gorm.DB) ([]model.Reservation, error) {
	var rows []reservationRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, classify(err)
	}
	out := make([]model.Reservation, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (t *txn) firstReservation(q *gorm.DB) (*model.Reservation, error) {
	var row reservationRow
	if err := q.First(&row).Error; err != nil {
		return nil, classify(err)
	}
	r := row.toModel()
	return &r, nil
}

func (t *txn) ActiveTables(ctx context.Context, minCapacity int) ([]model.Table, error) {
	var rows []tableRow
	err := t.db.WithContext(ctx).
		Where("is_active = ? AND capacity >= ?", true, minCapacity).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, classify(err)
	}
	tables := make([]model.Table, 0, len(rows))
	for i := range rows {
		tables = append(tables, rows[i].toModel())
	}
	return tables, nil
}

func (t *txn) MaxActiveCapacity(ctx context.Context) (int, error) {
	var capacity int
	err := t.db.WithContext(ctx).
		Model(&tableRow{}).
		Select("COALESCE(MAX(capacity), 0)").
		Where("is_active = ?", true).
		Row().Scan(&capacity)
	return capacity, classify(err)
}

func (t *txn) ConfirmedOverlapping(ctx context.Context, from, to time.Time) ([]model.Reservation, error) {
	return t.findReservations(t.reservations(ctx).
		Where("status = ? AND starts_at < ? AND ends_at > ?", string(model.StatusConfirmed), to.UTC(), from.UTC()).
		Order("table_id, starts_at"))
}

func (t *txn) IdleSince(ctx context.Context, at time.Time) (map[int64]time.Time, error) {
	statuses := []string{string(model.StatusConfirmed), string(model.StatusCompleted)}
	out := make(map[int64]time.Time)

	if t.postgres {
		var rows []struct {
			TableID int64
			LastEnd time.Time
		}
		err := t.db.WithContext(ctx).
			Model(&reservationRow{}).
			Select("table_id, MAX(ends_at) AS last_end").
			Where("status IN ? AND ends_at <= ?", statuses, at.UTC()).
			Group("table_id").
			Scan(&rows).Error
		if err != nil {
			return nil, classify(err)
		}
		for _, r := range rows {
			out[r.TableID] = r.LastEnd.UTC()
		}
		return out, nil
	}

	// SQLite returns aggregates over DATETIME columns as text, so reduce in Go.
	var rows []reservationRow
	err := t.db.WithContext(ctx).
		Select("table_id", "ends_at").
		Where("status IN ? AND ends_at <= ?", statuses, at.UTC()).
		Find(&rows).Error
	if err != nil {
		return nil, classify(err)
	}
	for _, r := range rows {
		if r.EndsAt.After(out[r.TableID]) {
			out[r.TableID] = r.EndsAt.UTC()
		}
	}
	return out, nil
}

func (t *txn) Reservation(ctx context.Context, id int64) (*model.Reservation, error) {
	return t.firstReservation(t.reservations(ctx).Where("id = ?", id))
}

func (t *txn) ReservationByReference(ctx context.Context, ref string) (*model.Reservation, error) {
	return t.firstReservation(t.reservations(ctx).Where("reference = ?", ref))
}

func (t *txn) ReservationsBetween(ctx context.Context, from, to time.Time) ([]model.Reservation, error) {
	return t.findReservations(t.reservations(ctx).
		Where("starts_at >= ? AND starts_at < ?", from.UTC(), to.UTC()).
		Order("starts_at, table_id"))
}

func (t *txn) CustomerByEmail(ctx context.Context, email string) (*model.Customer, error) {
	var row customerRow
	if err := t.db.WithContext(ctx).Where("email = ?", email).First(&row).Error; err != nil {
		return nil, classify(err)
	}
	return row.toModel(), nil
}

func (t *txn) CreateCustomer(ctx context.Context, c *model.Customer) error {
	row := customerRow{Name: c.Name, Email: c.Email, Phone: c.Phone, CreatedAt: c.CreatedAt.UTC()}
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		return classify(err)
	}
	c.ID = row.ID
	return nil
}

// LockTables takes FOR UPDATE locks on eligible tables in id order so that
// concurrent bookings competing for the same tables serialise on Postgres.
func (t *txn) LockTables(ctx context.Context, minCapacity int) error {
	if !t.postgres {
		return nil
	}
	var rows []tableRow
	err := t.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("is_active = ? AND capacity >= ?", true, minCapacity).
		Order("id").
		Find(&rows).Error
	return classify(err)
}

func (t *txn) InsertReservation(ctx context.Context, r *model.Reservation) error {
	row := reservationRow{
		Reference:  r.Reference,
		CustomerID: r.CustomerID,
		TableID:    r.TableID,
		StartsAt:   r.StartsAt.UTC(),
		EndsAt:     r.EndsAt.UTC(),
		PartySize:  r.PartySize,
		Status:     string(r.Status),
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		return classify(err)
	}
	r.ID = row.ID
	return nil
}

func (t *txn) UpdateStatus(ctx context.Context, id int64, status model.Status, at time.Time) error {
	res := t.db.WithContext(ctx).
		Model(&reservationRow{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": string(status), "updated_at": at.UTC()})
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *txn) syncTables(ctx context.Context, tables []model.Table) error {
	now := time.Now().UTC()
	db := t.db.WithContext(ctx)
	numbers := make([]int, 0, len(tables))

	for _, tb := range tables {
		row := tableRow{Number: tb.Number, Capacity: tb.Capacity, IsActive: tb.IsActive, UpdatedAt: now}
		err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "number"}},
			DoUpdates: clause.AssignmentColumns([]string{"capacity", "is_active", "updated_at"}),
		}).Create(&row).Error
		if err != nil {
			return classify(err)
		}
		numbers = append(numbers, tb.Number)
	}

	deactivate := db.Model(&tableRow{}).Where("is_active = ?", true)
	if len(numbers) > 0 {
		deactivate = deactivate.Where("number NOT IN ?", numbers)
	}
	return classify(deactivate.Updates(map[string]any{"is_active": false, "updated_at": now}).Error)
}
