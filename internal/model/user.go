package model

import "time"

type User struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Role      string    `db:"role"` // e.g. admin|supervisor|courier|customer
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
