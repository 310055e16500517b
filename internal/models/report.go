package models

import "time"

// ReportStatus is the care state of a report. It only moves forward.
type ReportStatus string

const (
	StatusPending ReportStatus = "Pending"
	StatusCared   ReportStatus = "Cared"
)

// Report is one injured-animal sighting.
type Report struct {
	ID           string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ReporterID   string       `json:"reporter_id" gorm:"type:varchar(36);not null;index"`
	Reporter     *User        `json:"-" gorm:"foreignKey:ReporterID;constraint:OnDelete:CASCADE"`
	ReporterName string       `json:"reporter_name" gorm:"-"`
	Description  string       `json:"description" gorm:"type:text;not null"`
	ImageURL     string       `json:"image_url" gorm:"type:varchar(1024);not null"`
	Latitude     float64      `json:"lat" gorm:"not null"`
	Longitude    float64      `json:"lon" gorm:"not null"`
	Status       ReportStatus `json:"status" gorm:"type:varchar(20);not null;default:Pending"`
	CreatedAt    time.Time    `json:"created_at" gorm:"index"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// IsCared reports whether a volunteer already took care of the animal.
func (r *Report) IsCared() bool {
	return r.Status == StatusCared
}
