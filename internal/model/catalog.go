package model

import "time"

// ServiceDefinition is the catalog entry an appointment line item is
// priced from. Only active definitions are bookable.
type ServiceDefinition struct {
	ID           string
	CompanyID    string
	Name         string
	Price        float64
	DurationMins int
	Active       bool
	CreatedAt    time.Time
}
