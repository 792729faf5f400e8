// Package instagram reads Instagram Graph API insights and account counters.
package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ad-tracker/analytics-sync-go/internal/db/models"
	"github.com/ad-tracker/analytics-sync-go/internal/platform"
	"github.com/ad-tracker/analytics-sync-go/internal/service/apiclient"
	"github.com/ad-tracker/analytics-sync-go/internal/service/daterange"
	"github.com/ad-tracker/analytics-sync-go/internal/service/report"
	"github.com/ad-tracker/analytics-sync-go/internal/service/token"
)

// Report types produced by InsightsSource.
const (
	ReportAccountInsights = "account_insights"
	ReportMedia           = "media"
)

// graphTimeLayout is the timestamp format used by the Graph API.
const graphTimeLayout = "2006-01-02T15:04:05-0700"

const (
	callCost = 1

	// maxPages bounds paging through one media window.
	maxPages = 50
)

var accountMetrics = []string{"reach", "impressions", "profile_views", "follower_count"}

var mediaFields = []string{"id", "timestamp", "like_count", "comments_count", "media_type", "permalink"}

// InsightsSource fetches daily account insights and published media.
type InsightsSource struct {
	client   *apiclient.Client
	graphURL string
	basePath string
	loc      *time.Location
	limit    int
}

// NewInsightsSource creates an InsightsSource. loc is the timezone used to
// assign insight values and media to calendar days.
func NewInsightsSource(client *apiclient.Client, graphURL string, loc *time.Location) *InsightsSource {
	if loc == nil {
		loc = time.UTC
	}
	graphURL = strings.TrimRight(graphURL, "/")
	var basePath string
	if u, err := url.Parse(graphURL); err == nil {
		basePath = u.Path
	}
	return &InsightsSource{
		client:   client,
		graphURL: graphURL,
		basePath: basePath,
		loc:      loc,
		limit:    100,
	}
}

func (s *InsightsSource) Platform() platform.Platform { return platform.Instagram }

// Granularity keeps every insights window well under the 30 day API limit.
func (s *InsightsSource) Granularity() daterange.Granularity { return daterange.HalfMonth }

// Reports returns the account report first, then the media report.
func (s *InsightsSource) Reports() []string {
	return []string{ReportAccountInsights, ReportMedia}
}

func (s *InsightsSource) EstimatedCost(string) int { return callCost }

// window converts an inclusive day range to the [since, until) unix bounds
// in the source timezone.
func (s *InsightsSource) window(r daterange.Range) (since, until int64) {
	start := time.Date(r.Start.Year(), r.Start.Month(), r.Start.Day(), 0, 0, 0, 0, s.loc)
	end := time.Date(r.End.Year(), r.End.Month(), r.End.Day(), 0, 0, 0, 0, s.loc).AddDate(0, 0, 1)
	return start.Unix(), end.Unix()
}

func (s *InsightsSource) request(tok *token.Token, reportType string, r daterange.Range) (string, url.Values, error) {
	since, until := s.window(r)
	q := url.Values{
		"since": {strconv.FormatInt(since, 10)},
		"until": {strconv.FormatInt(until, 10)},
	}

	switch reportType {
	case ReportAccountInsights:
		q.Set("metric", strings.Join(accountMetrics, ","))
		q.Set("period", "day")
		return s.graphURL + "/" + tok.PlatformAccountID + "/insights", q, nil
	case ReportMedia:
		q.Set("fields", strings.Join(mediaFields, ","))
		q.Set("limit", strconv.Itoa(s.limit))
		return s.graphURL + "/" + tok.PlatformAccountID + "/media", q, nil
	default:
		return "", nil, fmt.Errorf("unknown instagram report %q", reportType)
	}
}

// Fetch runs one report for one range. The media edge is paged by following
// paging.next until it is absent. Every page is returned as its own Call, and
// the last one carries the raw body even when err is non-nil.
func (s *InsightsSource) Fetch(ctx context.Context, tok *token.Token, reportType string, r daterange.Range) ([]*report.Call, error) {
	endpoint, q, err := s.request(tok, reportType, r)
	if err != nil {
		return nil, err
	}

	var calls []*report.Call
	for page := 0; ; page++ {
		if page == maxPages {
			return calls, fmt.Errorf("fetch %s %s: more than %d pages", reportType, r, maxPages)
		}

		call, next, err := s.fetchPage(ctx, tok, reportType, endpoint, q)
		calls = append(calls, call)
		if err != nil {
			return calls, fmt.Errorf("fetch %s %s: %w", reportType, r, err)
		}
		if reportType != ReportMedia || next == "" {
			return calls, nil
		}
		endpoint, q = next, nil
	}
}

// fetchPage runs one request and returns the next page URL, if any.
func (s *InsightsSource) fetchPage(ctx context.Context, tok *token.Token, reportType, endpoint string, q url.Values) (*report.Call, string, error) {
	call := &report.Call{ReportType: reportType, Request: s.archivedRequest(endpoint, q)}

	resp, err := s.client.Call(ctx, &apiclient.Request{
		Method: http.MethodGet,
		URL:    endpoint,
		Query:  q,
		Token:  tok.AccessToken,
	})
	call.Cost = s.client.AttemptsFor(resp) * callCost
	if resp != nil {
		call.StatusCode = resp.StatusCode
		call.Response = resp.Body
	}
	if err != nil {
		return call, "", err
	}

	var page struct {
		Data   []json.RawMessage `json:"data"`
		Paging struct {
			Next string `json:"next"`
		} `json:"paging"`
	}
	if err := json.Unmarshal(call.Response, &page); err != nil {
		return call, "", fmt.Errorf("decode %s page: %w", reportType, err)
	}
	if len(page.Data) == 0 {
		return call, "", nil
	}
	return call, page.Paging.Next, nil
}

// archivedRequest records the path and query of a request without the
// access token that paging.next URLs embed.
func (s *InsightsSource) archivedRequest(endpoint string, q url.Values) map[string]string {
	archived := make(map[string]string)
	if u, err := url.Parse(endpoint); err == nil {
		archived["path"] = strings.TrimPrefix(u.Path, s.basePath)
		for k := range u.Query() {
			archived[k] = u.Query().Get(k)
		}
	}
	for k := range q {
		archived[k] = q.Get(k)
	}
	delete(archived, "access_token")
	return archived
}

type insightsResponse struct {
	Data []struct {
		Name   string `json:"name"`
		Period string `json:"period"`
		Values []struct {
			Value   json.Number `json:"value"`
			EndTime string      `json:"end_time"`
		} `json:"values"`
	} `json:"data"`
}

type mediaResponse struct {
	Data []struct {
		ID            string `json:"id"`
		Timestamp     string `json:"timestamp"`
		LikeCount     int64  `json:"like_count"`
		CommentsCount int64  `json:"comments_count"`
		MediaType     string `json:"media_type"`
		Permalink     string `json:"permalink"`
	} `json:"data"`
}

// Map converts an insights or media body into daily rows. Insight values are
// looked up by metric name and assigned to the local day that ends at end_time.
func (s *InsightsSource) Map(accountID string, tok *token.Token, call *report.Call) ([]*models.DailyMetric, error) {
	switch call.ReportType {
	case ReportAccountInsights:
		return s.mapInsights(accountID, tok, call.Response)
	case ReportMedia:
		return s.mapMedia(accountID, tok, call.Response)
	default:
		return nil, fmt.Errorf("unknown instagram report %q", call.ReportType)
	}
}

func (s *InsightsSource) mapInsights(accountID string, tok *token.Token, body []byte) ([]*models.DailyMetric, error) {
	var resp insightsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode insights: %w", err)
	}

	byDay := make(map[time.Time]*models.DailyMetric)

	for _, metric := range resp.Data {
		for _, v := range metric.Values {
			end, err := time.Parse(graphTimeLayout, v.EndTime)
			if err != nil {
				return nil, fmt.Errorf("metric %s: parse end_time %q: %w", metric.Name, v.EndTime, err)
			}
			value, err := v.Value.Int64()
			if err != nil {
				return nil, fmt.Errorf("metric %s: value %q: %w", metric.Name, v.Value, err)
			}

			local := end.Add(-time.Second).In(s.loc)
			day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)

			m, ok := byDay[day]
			if !ok {
				m = models.NewDailyMetric(accountID, platform.Instagram, models.EntityAccount, tok.PlatformAccountID, day)
				byDay[day] = m
			}

			switch metric.Name {
			case "reach":
				m.Reach = &value
			case "impressions":
				m.Impressions = &value
			case "profile_views":
				m.ProfileViews = &value
			case "follower_count":
				m.FollowerCount = &value
			default:
				m.Extra[metric.Name] = value
			}
		}
	}

	out := make([]*models.DailyMetric, 0, len(byDay))
	for _, m := range byDay {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

func (s *InsightsSource) mapMedia(accountID string, tok *token.Token, body []byte) ([]*models.DailyMetric, error) {
	var resp mediaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode media: %w", err)
	}

	out := make([]*models.DailyMetric, 0, len(resp.Data))
	for _, item := range resp.Data {
		if item.ID == "" {
			return nil, fmt.Errorf("media item has no id")
		}
		published, err := time.Parse(graphTimeLayout, item.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("media %s: parse timestamp %q: %w", item.ID, item.Timestamp, err)
		}

		m := models.NewDailyMetric(accountID, platform.Instagram, models.EntityMedia, item.ID, published.In(s.loc))
		m.Likes = item.LikeCount
		m.Comments = item.CommentsCount
		m.Extra["account_id"] = tok.PlatformAccountID
		if item.MediaType != "" {
			m.Extra["media_type"] = item.MediaType
		}
		if item.Permalink != "" {
			m.Extra["permalink"] = item.Permalink
		}
		out = append(out, m)
	}
	return out, nil
}
