// Package ga4 reads daily site traffic from the Google Analytics 4 Data API.
package ga4

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	analyticsdata "google.golang.org/api/analyticsdata/v1beta"
	"google.golang.org/api/option"

	"github.com/xenking/oolio-orderflow/internal/analytics"
	"github.com/xenking/oolio-orderflow/internal/analytics/timebucket"
)

// Config holds GA4 client configuration.
type Config struct {
	Enabled    bool   `yaml:"enabled"`
	PropertyID string `yaml:"property_id"`
	// CredentialsJSON is either raw service account JSON or a path to it.
	CredentialsJSON string `yaml:"credentials_json"`
}

// reporter runs a GA4 report for a property.
type reporter interface {
	RunReport(ctx context.Context, property string, req *analyticsdata.RunReportRequest) (*analyticsdata.RunReportResponse, error)
}

type serviceReporter struct {
	service *analyticsdata.Service
}

func (s serviceReporter) RunReport(ctx context.Context, property string, req *analyticsdata.RunReportRequest) (*analyticsdata.RunReportResponse, error) {
	return s.service.Properties.RunReport(property, req).Context(ctx).Do()
}

// Client implements analytics.TrafficSource.
type Client struct {
	api        reporter
	propertyID string
	loc        *time.Location
}

var _ analytics.TrafficSource = (*Client)(nil)

// NewClient creates a GA4 client. It returns nil when cfg is disabled so that
// callers can skip wiring a traffic source.
func NewClient(ctx context.Context, cfg Config, loc *time.Location) (*Client, error) {
	if !cfg.Enabled {
		zctx.From(ctx).Info("GA4 traffic source disabled")
		return nil, nil
	}
	if cfg.PropertyID == "" {
		return nil, errors.New("ga4 property id is required")
	}

	var opts []option.ClientOption
	if creds := strings.TrimSpace(cfg.CredentialsJSON); creds != "" {
		if strings.HasPrefix(creds, "{") {
			opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
		} else {
			opts = append(opts, option.WithCredentialsFile(creds))
		}
	}
	service, err := analyticsdata.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create ga4 service")
	}

	zctx.From(ctx).Info("GA4 traffic source initialized", zap.String("property_id", cfg.PropertyID))
	return newClient(serviceReporter{service: service}, cfg.PropertyID, loc), nil
}

func newClient(api reporter, propertyID string, loc *time.Location) *Client {
	if loc == nil {
		loc = time.UTC
	}
	return &Client{api: api, propertyID: propertyID, loc: loc}
}

const (
	dateLayout    = "2006-01-02"
	ga4DateLayout = "20060102"
)

// Traffic fetches one point per day in r. GA4 date ranges are inclusive, so
// the last requested day is the one containing r.To minus one nanosecond.
func (c *Client) Traffic(ctx context.Context, r timebucket.Range) ([]analytics.TrafficPoint, error) {
	if r.Empty() {
		return nil, nil
	}
	req := &analyticsdata.RunReportRequest{
		DateRanges: []*analyticsdata.DateRange{{
			StartDate: r.From.In(c.loc).Format(dateLayout),
			EndDate:   r.To.Add(-time.Nanosecond).In(c.loc).Format(dateLayout),
		}},
		Dimensions: []*analyticsdata.Dimension{{Name: "date"}},
		Metrics: []*analyticsdata.Metric{
			{Name: "sessions"},
			{Name: "totalUsers"},
			{Name: "screenPageViews"},
			{Name: "bounceRate"},
		},
		OrderBys: []*analyticsdata.OrderBy{{
			Dimension: &analyticsdata.DimensionOrderBy{DimensionName: "date"},
		}},
	}

	resp, err := c.api.RunReport(ctx, fmt.Sprintf("properties/%s", c.propertyID), req)
	if err != nil {
		return nil, errors.Wrap(err, "run ga4 report")
	}

	lg := zctx.From(ctx)
	points := make([]analytics.TrafficPoint, 0, len(resp.Rows))
	for _, row := range resp.Rows {
		if len(row.DimensionValues) == 0 || len(row.MetricValues) < 4 {
			continue
		}
		raw := row.DimensionValues[0].Value
		date, err := time.ParseInLocation(ga4DateLayout, raw, c.loc)
		if err != nil {
			lg.Warn("Skip GA4 row with bad date", zap.String("date", raw), zap.Error(err))
			continue
		}
		bounce, err := decimal.NewFromString(row.MetricValues[3].Value)
		if err != nil {
			bounce = decimal.Zero
		}
		points = append(points, analytics.TrafficPoint{
			Date:       date,
			Sessions:   parseInt(row.MetricValues[0].Value),
			Visitors:   parseInt(row.MetricValues[1].Value),
			PageViews:  parseInt(row.MetricValues[2].Value),
			BounceRate: bounce,
		})
	}
	return points, nil
}

func parseInt(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
