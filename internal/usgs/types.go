package usgs

// Wire types for the NWIS JSON payload. Both the instantaneous and daily
// services share the same waterml-derived envelope.

type nwisResponse struct {
	Value struct {
		TimeSeries []timeSeries `json:"timeSeries"`
	} `json:"value"`
}

type timeSeries struct {
	SourceInfo sourceInfo    `json:"sourceInfo"`
	Values     []valuesBlock `json:"values"`
}

type sourceInfo struct {
	SiteName    string     `json:"siteName"`
	SiteCode    []siteCode `json:"siteCode"`
	GeoLocation struct {
		GeogLocation struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"geogLocation"`
	} `json:"geoLocation"`
}

type siteCode struct {
	Value string `json:"value"`
}

type valuesBlock struct {
	Value []timedValue `json:"value"`
}

type timedValue struct {
	Value    string `json:"value"`
	DateTime string `json:"dateTime"`
}
