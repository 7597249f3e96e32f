package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/query"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/GeoAziz/netverse-engine/internal/packet"
)

// Measurement is the InfluxDB measurement all traffic points go to.
const Measurement = "network_traffic"

// InfluxConfig connects the durable store to an InfluxDB 2.x instance.
type InfluxConfig struct {
	URL    string `mapstructure:"url" yaml:"url"`
	Token  string `mapstructure:"token" yaml:"token"`
	Org    string `mapstructure:"org" yaml:"org"`
	Bucket string `mapstructure:"bucket" yaml:"bucket"`
}

// InfluxStore persists records as time-series points. Tags carry the
// dimensions queries group by, everything else goes into fields.
type InfluxStore struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	bucket   string
}

// NewInfluxStore dials the configured InfluxDB instance. Timestamps are
// written with millisecond precision to match record timestamps.
func NewInfluxStore(cfg InfluxConfig) (*InfluxStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("influxdb url is required")
	}
	opts := influxdb2.DefaultOptions().SetPrecision(time.Millisecond)
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	return &InfluxStore{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		bucket:   cfg.Bucket,
	}, nil
}

func (s *InfluxStore) Write(ctx context.Context, rec *packet.Record) error {
	tags := map[string]string{
		"protocol":  string(rec.Protocol),
		"source_ip": rec.SourceAddress,
		"dest_ip":   rec.DestAddress,
	}
	fields := map[string]interface{}{
		"length":      rec.Length,
		"source_port": int(rec.SourcePort),
		"dest_port":   int(rec.DestPort),
		"summary":     rec.Summary,
	}
	if len(rec.Flags) > 0 {
		fields["flags"] = strings.Join(rec.Flags, ",")
	}
	if len(rec.ThreatIndicators) > 0 {
		fields["threat_indicators"] = strings.Join(rec.ThreatIndicators, ",")
	}

	point := write.NewPoint(Measurement, tags, fields, rec.CapturedAt)
	return s.writeAPI.WritePoint(ctx, point)
}

func (s *InfluxStore) Query(ctx context.Context, filter QueryFilter) ([]*packet.Record, error) {
	filter = filter.normalized()

	flux := s.baseQuery(filter.Start, filter.End)
	if filter.Protocol != "" {
		flux += fmt.Sprintf("  |> filter(fn: (r) => r.protocol == %q)\n", string(filter.Protocol))
	}
	if filter.SourceAddress != "" {
		flux += fmt.Sprintf("  |> filter(fn: (r) => r.source_ip == %q)\n", filter.SourceAddress)
	}
	if filter.DestAddress != "" {
		flux += fmt.Sprintf("  |> filter(fn: (r) => r.dest_ip == %q)\n", filter.DestAddress)
	}
	flux += fmt.Sprintf("  |> limit(n: %d)\n", filter.Limit)

	recs, err := s.runQuery(ctx, flux)
	if err != nil {
		return nil, err
	}
	if len(recs) > filter.Limit {
		recs = recs[:filter.Limit]
	}
	return recs, nil
}

func (s *InfluxStore) Summarize(ctx context.Context, window time.Duration) (*Summary, error) {
	recs, err := s.runQuery(ctx, s.baseQuery(time.Now().Add(-window), time.Time{}))
	if err != nil {
		return nil, err
	}
	return summarizeRecords(recs, window), nil
}

func (s *InfluxStore) Close(context.Context) error {
	s.client.Close()
	return nil
}

// baseQuery builds the shared range+pivot+sort prefix. Pivoting turns the
// per-field rows back into one row per point.
func (s *InfluxStore) baseQuery(start, end time.Time) string {
	rangeClause := "start: 0"
	if !start.IsZero() {
		rangeClause = fmt.Sprintf("start: %s", start.UTC().Format(time.RFC3339Nano))
	}
	if !end.IsZero() {
		rangeClause += fmt.Sprintf(", stop: %s", end.UTC().Format(time.RFC3339Nano))
	}
	return fmt.Sprintf(`from(bucket: %q)
  |> range(%s)
  |> filter(fn: (r) => r._measurement == %q)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> sort(columns: ["_time"], desc: true)
`, s.bucket, rangeClause, Measurement)
}

func (s *InfluxStore) runQuery(ctx context.Context, flux string) ([]*packet.Record, error) {
	result, err := s.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("influxdb query: %w", err)
	}
	defer result.Close()

	var recs []*packet.Record
	for result.Next() {
		recs = append(recs, fromFluxRecord(result.Record()))
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("influxdb result: %w", result.Err())
	}
	return recs, nil
}

// fromFluxRecord rebuilds the queryable subset of a record from one pivoted
// row. Enrichment and raw previews are not persisted and stay empty.
func fromFluxRecord(row *query.FluxRecord) *packet.Record {
	values := row.Values()
	rec := &packet.Record{
		CapturedAt:    row.Time(),
		Protocol:      packet.Protocol(asString(values["protocol"])),
		SourceAddress: asString(values["source_ip"]),
		DestAddress:   asString(values["dest_ip"]),
		SourcePort:    uint16(asInt(values["source_port"])),
		DestPort:      uint16(asInt(values["dest_port"])),
		Length:        asInt(values["length"]),
		Summary:       asString(values["summary"]),
	}
	if flags := asString(values["flags"]); flags != "" {
		rec.Flags = strings.Split(flags, ",")
	}
	if indicators := asString(values["threat_indicators"]); indicators != "" {
		rec.ThreatIndicators = strings.Split(indicators, ",")
	}
	return rec
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asInt(v interface{}) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}
