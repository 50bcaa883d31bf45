package models

// Classroom is a bookable room.
type Classroom struct {
	ID       string `db:"id" json:"id"`
	Code     string `db:"code" json:"code"`
	Capacity int    `db:"capacity" json:"capacity"`
	Type     string `db:"type" json:"type"`
	Active   bool   `db:"active" json:"active"`
}
