package models

import (
	"time"
)

// Patient is a canonical patient directory entry. The directory backs
// the lookup capability that resolves extracted identity candidates;
// the clinical data model itself lives outside this service.
type Patient struct {
	ID           string    `json:"id" gorm:"primaryKey"`
	FullName     string    `json:"full_name" gorm:"index"`
	NationalID   string    `json:"national_id" gorm:"index"`
	RecordNumber string    `json:"record_number" gorm:"index"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
