package metricssvc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/shulelink/backend/core"
)

// httpProvider fetches attendance metrics from the school records API.
type httpProvider struct {
	baseURL string
	client  *http.Client
}

var _ core.MetricsProvider = (*httpProvider)(nil)

func NewHTTPProvider(conf *core.Config) core.MetricsProvider {
	return &httpProvider{
		baseURL: strings.TrimRight(conf.Monitor.MetricsURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *httpProvider) GetStudentMetrics(ctx context.Context, studentID string) (core.StudentMetrics, error) {
	var m core.StudentMetrics

	endpoint := fmt.Sprintf("%s/students/%s/attendance", p.baseURL, url.PathEscape(studentID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return m, errors.Wrap(err, "building metrics request")
	}

	res, err := p.client.Do(req)
	if err != nil {
		return m, errors.Wrap(err, "fetching student metrics")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return m, errors.Errorf("fetching student metrics - status: %d", res.StatusCode)
	}

	var body struct {
		AttendanceRate float64 `json:"attendance_rate"`
		PresentDays    int     `json:"present_days"`
		AbsentDays     int     `json:"absent_days"`
		LateDays       int     `json:"late_days"`
		TotalDays      int     `json:"total_days"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return m, errors.Wrap(err, "decoding student metrics")
	}

	m = core.StudentMetrics{
		AttendanceRate: body.AttendanceRate,
		PresentDays:    body.PresentDays,
		AbsentDays:     body.AbsentDays,
		LateDays:       body.LateDays,
		TotalDays:      body.TotalDays,
	}
	return m, nil
}
