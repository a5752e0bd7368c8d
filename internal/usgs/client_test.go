package usgs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const ivPayload = `{
  "value": {
    "timeSeries": [
      {
        "sourceInfo": {
          "siteName": "POTOMAC RIVER NEAR WASH, DC",
          "siteCode": [{"value": "01646500"}],
          "geoLocation": {"geogLocation": {"latitude": 38.94, "longitude": -77.12}}
        },
        "values": [
          {"value": [
            {"value": "123.45", "dateTime": "2024-06-01T07:00:00.000-05:00"},
            {"value": "-9999", "dateTime": "2024-06-01T07:15:00.000-05:00"},
            {"value": "Ice", "dateTime": "2024-06-01T07:30:00.000-05:00"}
          ]}
        ]
      }
    ]
  }
}`

func noopLogger() zerolog.Logger { return zerolog.Nop() }

func newTestClient(baseURL string) *Client {
	return NewClient(Options{
		IVBaseURL: baseURL,
		DVBaseURL: baseURL,
		StateCode: "VA",
		Timeout:   time.Second,
		UserAgent: "test",
	}, noopLogger())
}

func TestFetchInstantaneous(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{
			"stateCd":     q.Get("stateCd"),
			"parameterCd": q.Get("parameterCd"),
			"siteType":    q.Get("siteType"),
			"startDT":     q.Get("startDT"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(ivPayload))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	from := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	data, err := c.FetchInstantaneous(context.Background(), from, from.Add(12*time.Hour))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if gotQuery["stateCd"] != "VA" || gotQuery["parameterCd"] != "00060" || gotQuery["siteType"] != "ST" {
		t.Fatalf("unexpected query params: %v", gotQuery)
	}
	if gotQuery["startDT"] != "2024-06-01T00:00" {
		t.Fatalf("startDT not formatted for NWIS: %q", gotQuery["startDT"])
	}

	if len(data) != 1 {
		t.Fatalf("expected 1 site, got %d", len(data))
	}
	site := data[0].Site
	if site.ID != "01646500" || site.Latitude != 38.94 {
		t.Fatalf("site metadata wrong: %+v", site)
	}

	rows := data[0].Readings
	if len(rows) != 3 {
		t.Fatalf("instantaneous feed keeps missing readings, want 3 rows got %d", len(rows))
	}
	if f, ok := rows[0].FlowValue(); !ok || f != 123.45 {
		t.Fatalf("first reading wrong: %v ok=%v", f, ok)
	}
	if _, ok := rows[1].FlowValue(); ok {
		t.Fatal("-9999 sentinel must map to missing flow")
	}
	if _, ok := rows[2].FlowValue(); ok {
		t.Fatal("unparsable value must map to missing flow")
	}
	// Offset timestamps are normalized to UTC instants.
	want := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if !rows[0].Timestamp.Equal(want) {
		t.Fatalf("timestamp not normalized: %v", rows[0].Timestamp)
	}
}

func TestFetchInstantaneousHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "service down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if _, err := c.FetchInstantaneous(context.Background(), time.Now().Add(-time.Hour), time.Now()); err == nil {
		t.Fatal("HTTP 503 must surface as an error")
	}
}

func TestFetchDailyArchiveChunksAndDrops(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(ivPayload))
	}))
	defer srv.Close()

	c := NewClient(Options{
		IVBaseURL:  srv.URL,
		DVBaseURL:  srv.URL,
		StateCode:  "VA",
		Timeout:    time.Second,
		ChunkYears: 5,
	}, noopLogger())

	from := time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	archive, err := c.FetchDailyArchive(context.Background(), from, to)
	if err != nil {
		t.Fatalf("fetch archive: %v", err)
	}

	// 12 years at 5-year chunks needs 3 requests.
	if requests != 3 {
		t.Fatalf("expected 3 chunked requests, got %d", requests)
	}

	samples := archive["01646500"]
	// Payload has one parsable value per chunk; sentinel and "Ice" rows are dropped.
	if len(samples) != 3 {
		t.Fatalf("expected 3 daily samples, got %d", len(samples))
	}
	if samples[0].Flow != 123.45 {
		t.Fatalf("wrong sample value: %v", samples[0].Flow)
	}
}
