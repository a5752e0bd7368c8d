package storage

import (
	"time"

	"gaugewatch/internal/roc"
)

// ProcessedRecord is the persisted shape of one processed dataset row: the
// stable logical schema the presentation layer reads.
type ProcessedRecord struct {
	SiteID          string
	SiteName        string
	Latitude        float64
	Longitude       float64
	LatestTimestamp time.Time
	LatestFlow      float64
	PctChange3h     *float64
	P90Flow         *float64
	Ratio           *float64
	HighFlow        bool
	RocStatus       roc.Status
	RunTS           time.Time
}

// RunRecord logs one pipeline run for the update audit trail. Only the most
// recent runs are retained.
type RunRecord struct {
	RunTS          time.Time
	SitesProcessed int
	SitesSkipped   int
	Duration       time.Duration
	Status         string
	Error          *string
}
