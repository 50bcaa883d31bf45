package models

// TimeBlock is one (day, slot) cell of the weekly grid.
type TimeBlock struct {
	DayID     int    `db:"day_id" json:"day_id"`
	SlotID    int    `db:"slot_id" json:"slot_id"`
	DayName   string `db:"day_name" json:"day_name"`
	StartTime string `db:"start_time" json:"start_time"`
	EndTime   string `db:"end_time" json:"end_time"`
	Active    bool   `db:"active" json:"active"`
}
