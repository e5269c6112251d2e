package models

import "time"

// Assignment is course reference data created by course setup. The portal
// core reads it and never mutates it.
type Assignment struct {
	ID        string    `db:"id" json:"id"`
	Course    string    `db:"course" json:"course"`
	Title     string    `db:"title" json:"title"`
	DueDate   time.Time `db:"due_date" json:"due_date"`
	MaxPoints float64   `db:"max_points" json:"max_points"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
