package gormstore

import (
	"time"

	"fusse/internal/model"
)

// customers
type customerRow struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Name      string    `gorm:"type:varchar(100);not null"`
	Email     string    `gorm:"type:varchar(120);not null;uniqueIndex"`
	Phone     string    `gorm:"type:varchar(20)"`
	CreatedAt time.Time `gorm:"not null"`
}

func (customerRow) TableName() string { return "customers" }

// dining_tables
type tableRow struct {
	ID        int64 `gorm:"primaryKey;autoIncrement"`
	Number    int   `gorm:"not null;uniqueIndex"`
	Capacity  int   `gorm:"not null;check:capacity >= 1"`
	IsActive  bool  `gorm:"not null;index"`
	UpdatedAt time.Time
}

func (tableRow) TableName() string { return "dining_tables" }

// reservations
type reservationRow struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	Reference  string    `gorm:"type:varchar(36);not null;uniqueIndex"`
	CustomerID int64     `gorm:"not null;index"`
	TableID    int64     `gorm:"not null;index:idx_reservations_table_time,priority:1"`
	StartsAt   time.Time `gorm:"not null;index:idx_reservations_table_time,priority:2"`
	EndsAt     time.Time `gorm:"not null"`
	PartySize  int       `gorm:"not null;check:party_size >= 1"`
	Status     string    `gorm:"type:varchar(16);not null;index"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`

	Customer *customerRow `gorm:"foreignKey:CustomerID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
	Table    *tableRow    `gorm:"foreignKey:TableID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

func (reservationRow) TableName() string { return "reservations" }

func (r *reservationRow) toModel() model.Reservation {
	out := model.Reservation{
		ID:         r.ID,
		Reference:  r.Reference,
		CustomerID: r.CustomerID,
		TableID:    r.TableID,
		StartsAt:   r.StartsAt.UTC(),
		EndsAt:     r.EndsAt.UTC(),
		PartySize:  r.PartySize,
		Status:     model.Status(r.Status),
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
	if r.Table != nil {
		out.TableNumber = r.Table.Number
	}
	if r.Customer != nil {
		out.CustomerName = r.Customer.Name
		out.CustomerEmail = r.Customer.Email
	}
	return out
}

func (t *tableRow) toModel() model.Table {
	return model.Table{ID: t.ID, Number: t.Number, Capacity: t.Capacity, IsActive: t.IsActive}
}

func (c *customerRow) toModel() *model.Customer {
	return &model.Customer{ID: c.ID, Name: c.Name, Email: c.Email, Phone: c.Phone, CreatedAt: c.CreatedAt.UTC()}
}
