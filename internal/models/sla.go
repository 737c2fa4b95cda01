package models

import "time"

// SlaData is the availability of one element over a window.
type SlaData struct {
	EnvironmentID   string        `json:"environmentId"`
	ElementID       string        `json:"elementId"`
	StartDate       time.Time     `json:"startDate"`
	EndDate         time.Time     `json:"endDate"`
	UpTime          time.Duration `json:"upTime"`
	DownTime        time.Duration `json:"downTime"`
	CalculatedValue float64       `json:"calculatedValue"`
	Level           State         `json:"level"`
	IncludeWarnings bool          `json:"includeWarnings"`
	NoData          bool          `json:"noData,omitempty"`
}

// SlaSegment is one history row clipped to the query window.
type SlaSegment struct {
	State     State     `json:"state"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
}

// Duration returns the length of the segment.
func (s SlaSegment) Duration() time.Duration {
	return s.EndDate.Sub(s.StartDate)
}

// SlaDataRaw holds the clipped segments an SlaData was computed from.
type SlaDataRaw struct {
	EnvironmentID string       `json:"environmentId"`
	ElementID     string       `json:"elementId"`
	StartDate     time.Time    `json:"startDate"`
	EndDate       time.Time    `json:"endDate"`
	Segments      []SlaSegment `json:"segments"`
}
