package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// WorkProfileType describes when an occupant is at home.
type WorkProfileType string

const (
	WorksAtHome        WorkProfileType = "works_at_home"
	DayWorkerOutside   WorkProfileType = "day_worker_outside"
	NightWorkerOutside WorkProfileType = "night_worker_outside"
	Unspecified        WorkProfileType = "unspecified"
)

// ParseWorkProfileType accepts the canonical names, tolerating case and dashes.
func ParseWorkProfileType(s string) (WorkProfileType, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	switch WorkProfileType(norm) {
	case WorksAtHome, DayWorkerOutside, NightWorkerOutside, Unspecified:
		return WorkProfileType(norm), nil
	}
	return "", fmt.Errorf("unknown work profile type %q", s)
}

// PersonProfileItem is a number of occupants sharing one work profile.
type PersonProfileItem struct {
	ProfileType WorkProfileType `json:"profile_type"`
	Count       int             `json:"count"`
}

// ConsumptionTemplate carries the target daily energy its pattern is normalized to.
type ConsumptionTemplate struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	TargetDailyKWh float64 `json:"power_kw"`
}

// LoadSource tells where a house's load series comes from.
type LoadSource string

const (
	LoadFromFile     LoadSource = "File"
	LoadFromTemplate LoadSource = "Template"
	LoadFromEngine   LoadSource = "Engine"
	LoadFromBuilder  LoadSource = "Builder"
)

// LoadProfile links a house to its load series.
type LoadProfile struct {
	ID         uuid.UUID  `json:"id"`
	HouseID    uuid.UUID  `json:"house_node_id"`
	Name       string     `json:"name"`
	Source     LoadSource `json:"source"`
	TemplateID *int64     `json:"template_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// SolarInstallation describes the panels installed at a house.
type SolarInstallation struct {
	HouseID             uuid.UUID `json:"house_node_id"`
	InstalledCapacityKW float64   `json:"installed_capacity_kw"`
	Tracking            bool      `json:"tracking"`
	InstalledOn         time.Time `json:"installed_on"`
}
