package youtube

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ad-tracker/analytics-sync-go/internal/db/models"
	"github.com/ad-tracker/analytics-sync-go/internal/platform"
	"github.com/ad-tracker/analytics-sync-go/internal/service/apiclient"
	"github.com/ad-tracker/analytics-sync-go/internal/service/daterange"
	"github.com/ad-tracker/analytics-sync-go/internal/service/report"
	"github.com/ad-tracker/analytics-sync-go/internal/service/token"
)

// Report types produced by ReportSource.
const (
	ReportChannelDaily = "channel_daily"
	ReportVideoDaily   = "video_daily"
)

const (
	// reportCost is the quota charged per Analytics query.
	reportCost = 1

	// maxPages bounds paging through one report chunk.
	maxPages = 50
)

var channelMetrics = []string{
	"views",
	"estimatedMinutesWatched",
	"averageViewDuration",
	"likes",
	"comments",
	"shares",
	"subscribersGained",
	"subscribersLost",
}

var videoMetrics = []string{
	"views",
	"estimatedMinutesWatched",
	"averageViewDuration",
	"likes",
	"comments",
	"shares",
}

// ReportSource fetches daily channel and video reports from the YouTube Analytics API.
type ReportSource struct {
	client         *apiclient.Client
	reportURL      string
	includeRevenue bool
	maxResults     int
}

// NewReportSource creates a ReportSource. includeRevenue adds estimatedRevenue,
// which needs the monetary scope on the credential.
func NewReportSource(client *apiclient.Client, reportURL string, includeRevenue bool) *ReportSource {
	return &ReportSource{
		client:         client,
		reportURL:      reportURL,
		includeRevenue: includeRevenue,
		maxResults:     200,
	}
}

func (s *ReportSource) Platform() platform.Platform { return platform.YouTube }

func (s *ReportSource) Granularity() daterange.Granularity { return daterange.Month }

// Reports returns the channel report first, then the per-video report.
func (s *ReportSource) Reports() []string {
	return []string{ReportChannelDaily, ReportVideoDaily}
}

// EstimatedCost is the quota reserved before each report call.
func (s *ReportSource) EstimatedCost(string) int { return reportCost }

func (s *ReportSource) query(reportType string, r daterange.Range) (url.Values, error) {
	q := url.Values{
		"ids":       {"channel==MINE"},
		"startDate": {r.Start.Format(daterange.DateLayout)},
		"endDate":   {r.End.Format(daterange.DateLayout)},
	}

	switch reportType {
	case ReportChannelDaily:
		m := channelMetrics
		if s.includeRevenue {
			m = append(append([]string{}, m...), "estimatedRevenue")
		}
		q.Set("metrics", strings.Join(m, ","))
		q.Set("dimensions", "day")
		q.Set("sort", "day")
	case ReportVideoDaily:
		q.Set("metrics", strings.Join(videoMetrics, ","))
		q.Set("dimensions", "video,day")
		q.Set("sort", "day")
		q.Set("maxResults", fmt.Sprint(s.maxResults))
	default:
		return nil, fmt.Errorf("unknown youtube report %q", reportType)
	}
	return q, nil
}

// Fetch runs one report for one range. The video report is paged with
// startIndex until a short page comes back. Every page is returned as its own
// Call, and the last one carries the raw body even when err is non-nil.
func (s *ReportSource) Fetch(ctx context.Context, tok *token.Token, reportType string, r daterange.Range) ([]*report.Call, error) {
	q, err := s.query(reportType, r)
	if err != nil {
		return nil, err
	}

	var calls []*report.Call
	for page := 0; ; page++ {
		if page == maxPages {
			return calls, fmt.Errorf("fetch %s %s: more than %d pages", reportType, r, maxPages)
		}
		paged := reportType == ReportVideoDaily
		if paged {
			q.Set("startIndex", strconv.Itoa(1+page*s.maxResults))
		}

		call, rows, err := s.fetchPage(ctx, tok, reportType, q)
		calls = append(calls, call)
		if err != nil {
			return calls, fmt.Errorf("fetch %s %s: %w", reportType, r, err)
		}
		if !paged || rows < s.maxResults {
			return calls, nil
		}
	}
}

// fetchPage runs one query and returns the page's row count.
func (s *ReportSource) fetchPage(ctx context.Context, tok *token.Token, reportType string, q url.Values) (*report.Call, int, error) {
	call := &report.Call{
		ReportType: reportType,
		Request:    flatten(q),
	}

	resp, err := s.client.Call(ctx, &apiclient.Request{
		Method: http.MethodGet,
		URL:    s.reportURL,
		Query:  q,
		Token:  tok.AccessToken,
	})
	call.Cost = s.client.AttemptsFor(resp) * reportCost
	if resp != nil {
		call.StatusCode = resp.StatusCode
		call.Response = resp.Body
	}
	if err != nil {
		return call, 0, err
	}

	table, err := report.ParseTable(call.Response)
	if err != nil {
		return call, 0, err
	}
	return call, table.Len(), nil
}

// Map converts a report body into daily rows. Columns are looked up by name.
func (s *ReportSource) Map(accountID string, tok *token.Token, call *report.Call) ([]*models.DailyMetric, error) {
	table, err := report.ParseTable(call.Response)
	if err != nil {
		return nil, err
	}

	switch call.ReportType {
	case ReportChannelDaily:
		if err := table.Require("day", "views"); err != nil {
			return nil, err
		}
		return mapRows(table, func(row int) (*models.DailyMetric, error) {
			day, err := table.Date(row, "day")
			if err != nil {
				return nil, err
			}
			m := models.NewDailyMetric(accountID, platform.YouTube, models.EntityChannel, tok.PlatformAccountID, day)
			fillCommon(m, table, row)
			m.SubscribersGained = table.Int64Ptr(row, "subscribersGained")
			m.SubscribersLost = table.Int64Ptr(row, "subscribersLost")
			m.EstimatedRevenue = table.FloatPtr(row, "estimatedRevenue")
			return m, nil
		})
	case ReportVideoDaily:
		if err := table.Require("video", "day", "views"); err != nil {
			return nil, err
		}
		return mapRows(table, func(row int) (*models.DailyMetric, error) {
			day, err := table.Date(row, "day")
			if err != nil {
				return nil, err
			}
			videoID := table.String(row, "video")
			if videoID == "" {
				return nil, fmt.Errorf("row %d has no video id", row)
			}
			m := models.NewDailyMetric(accountID, platform.YouTube, models.EntityVideo, videoID, day)
			fillCommon(m, table, row)
			m.Extra["channel_id"] = tok.PlatformAccountID
			return m, nil
		})
	default:
		return nil, fmt.Errorf("unknown youtube report %q", call.ReportType)
	}
}

func fillCommon(m *models.DailyMetric, table *report.Table, row int) {
	m.Views, _ = table.Int64(row, "views")
	m.Likes, _ = table.Int64(row, "likes")
	m.Comments, _ = table.Int64(row, "comments")
	m.Shares, _ = table.Int64(row, "shares")
	m.WatchMinutes = table.FloatPtr(row, "estimatedMinutesWatched")
	m.AvgViewDurationSeconds = table.FloatPtr(row, "averageViewDuration")
}

func mapRows(table *report.Table, fn func(row int) (*models.DailyMetric, error)) ([]*models.DailyMetric, error) {
	out := make([]*models.DailyMetric, 0, table.Len())
	for i := 0; i < table.Len(); i++ {
		m, err := fn(i)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// flatten turns single-valued query params into a plain map for archiving.
func flatten(q url.Values) map[string]string {
	out := make(map[string]string, len(q))
	for k := range q {
		out[k] = q.Get(k)
	}
	return out
}
