package readings

import "time"

// Reading is a single timestamped discharge observation for a gauge.
// Flow is nil when the upstream feed reported a missing or unparsable value.
type Reading struct {
	SiteID    string
	Timestamp time.Time
	Flow      *float64
}

// Site carries the station metadata delivered alongside the readings feed.
type Site struct {
	ID        string
	Name      string
	Latitude  float64
	Longitude float64
}

// FlowValue returns the flow and whether it is present.
func (r Reading) FlowValue() (float64, bool) {
	if r.Flow == nil {
		return 0, false
	}
	return *r.Flow, true
}
