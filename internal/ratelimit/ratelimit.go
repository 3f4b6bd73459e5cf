// Package ratelimit probes the agent's OAuth usage endpoint and reshapes the
// response into the outer rate-limit buckets the client displays. It reads
// the access token through internal/credentials.
package ratelimit

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/lukele/CodexMonitor/internal/credentials"
	"github.com/lukele/CodexMonitor/internal/logging"
	"go.uber.org/zap"
)

// ErrProbeFailed is the sentinel wrapped into every error that causes Query
// to fall back to a null-valued Result: absent credentials, an expired
// token, or a non-2xx usage response. Checked with errors.Is, never by
// matching the message text.
var ErrProbeFailed = errors.New("ratelimit: usage probe failed")

const (
	usageEndpoint = "https://api.anthropic.com/api/oauth/usage"
	betaHeader    = "oauth-2025-04-20"
	userAgent     = "CodexMonitor-bridge/1.0"
)

// Bucket is one rate-limit window as reported to the client.
type Bucket struct {
	UtilizationPercent float64   `json:"utilizationPercent"`
	ResetsAt           time.Time `json:"resetsAt"`
	WindowMinutes      int       `json:"windowMinutes"`
}

// Credits reports the balance of a pay-as-you-go credits pool.
type Credits struct {
	HasCredits bool    `json:"hasCredits"`
	Unlimited  bool    `json:"unlimited"`
	Balance    *string `json:"balance,omitempty"`
}

// Result is the outer shape of account/rateLimits. Any bucket may be nil,
// meaning absent or not reported by the probe.
type Result struct {
	Primary   *Bucket  `json:"primary"`
	Secondary *Bucket  `json:"secondary"`
	Credits   *Credits `json:"credits"`
}

// Probe reads the first usable credential file and queries the usage
// endpoint. Any failure (absent credentials, an expired token, a non-2xx
// response) yields a null-valued Result rather than an error: the client
// always gets a well-formed (if empty) rate-limit shape.
type Probe struct {
	logger     *logging.Logger
	httpClient *http.Client
}

// New creates a Probe with a bounded-timeout HTTP client.
func New(logger *logging.Logger) *Probe {
	if logger == nil {
		logger = logging.Default()
	}
	return &Probe{
		logger:     logger.WithFields(zap.String("component", "ratelimit")),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Query runs the probe and always returns a non-nil Result: any error in
// the taxonomy wrapped under ErrProbeFailed degrades to a null-valued Result
// rather than propagating, per the documented probe-error handling.
func (p *Probe) Query() *Result {
	resp, err := p.query()
	if err != nil {
		if errors.Is(err, ErrProbeFailed) {
			p.logger.Debug("rate-limit probe degraded to null result", zap.Error(err))
		} else {
			p.logger.Warn("rate-limit probe: unexpected error", zap.Error(err))
		}
		return &Result{}
	}
	return resp
}

func (p *Probe) query() (*Result, error) {
	cred, err := credentials.LoadFirst()
	if err != nil {
		return nil, fmt.Errorf("%w: no usable credentials: %w", ErrProbeFailed, err)
	}
	if cred.Expired() {
		return nil, fmt.Errorf("%w: credential token expired", ErrProbeFailed)
	}

	resp, err := p.queryUsage(cred.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProbeFailed, err)
	}
	return resp, nil
}

// usageResponse is the provider's raw usage payload.
type usageResponse struct {
	FiveHour *struct {
		Utilization float64 `json:"utilization"`
		ResetsAt    string  `json:"resets_at"`
	} `json:"five_hour"`
	SevenDay *struct {
		Utilization float64 `json:"utilization"`
		ResetsAt    string  `json:"resets_at"`
	} `json:"seven_day"`
	ExtraUsage *struct {
		MonthlyLimit *float64 `json:"monthly_limit"`
		UsedCredits  *float64 `json:"used_credits"`
		Unlimited    bool     `json:"unlimited"`
	} `json:"extra_usage"`
}

func (p *Probe) queryUsage(accessToken string) (*Result, error) {
	req, err := http.NewRequest(http.MethodGet, usageEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("anthropic-beta", betaHeader)
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: usage request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: read usage response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("ratelimit: usage endpoint returned %d", resp.StatusCode)
	}

	var raw usageResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("ratelimit: parse usage response: %w", err)
	}
	return mapUsageResponse(&raw), nil
}

// mapUsageResponse reshapes the provider payload into the outer buckets:
// five-hour window -> primary (300 minutes), seven-day window -> secondary
// (10080 minutes), extra-usage block -> credits.
func mapUsageResponse(raw *usageResponse) *Result {
	result := &Result{}

	if raw.FiveHour != nil {
		result.Primary = &Bucket{
			UtilizationPercent: raw.FiveHour.Utilization,
			ResetsAt:           parseResetTime(raw.FiveHour.ResetsAt),
			WindowMinutes:      300,
		}
	}
	if raw.SevenDay != nil {
		result.Secondary = &Bucket{
			UtilizationPercent: raw.SevenDay.Utilization,
			ResetsAt:           parseResetTime(raw.SevenDay.ResetsAt),
			WindowMinutes:      10080,
		}
	}
	if raw.ExtraUsage != nil {
		credits := &Credits{
			HasCredits: true,
			Unlimited:  false,
		}
		if raw.ExtraUsage.MonthlyLimit != nil && raw.ExtraUsage.UsedCredits != nil {
			balance := (*raw.ExtraUsage.MonthlyLimit - *raw.ExtraUsage.UsedCredits) / 100
			s := strconv.FormatFloat(balance, 'f', 2, 64)
			credits.Balance = &s
		}
		result.Credits = credits
	}
	return result
}

func parseResetTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
