// Package health probes the backend's health endpoint on a fixed
// interval so clients can show server reachability alongside the
// realtime connection status.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const DefaultInterval = 30 * time.Second

// Report is the outcome of one probe.
type Report struct {
	Healthy   bool
	Latency   time.Duration
	CheckedAt time.Time
	Err       error
}

type Prober struct {
	url      string
	interval time.Duration
	client   *http.Client
	clock    clockwork.Clock
	log      *zap.Logger
	onChange func(Report)
}

// Options tune a prober; the zero value works.
type Options struct {
	Interval time.Duration
	Client   *http.Client
	Clock    clockwork.Clock
	Logger   *zap.Logger
}

// NewProber probes url and calls onChange whenever healthiness flips.
// The first probe always reports.
func NewProber(url string, onChange func(Report), opts Options) *Prober {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Prober{
		url:      url,
		interval: opts.Interval,
		client:   opts.Client,
		clock:    opts.Clock,
		log:      opts.Logger.Named("health"),
		onChange: onChange,
	}
}

// Run probes until ctx is cancelled. It blocks; callers run it in a
// goroutine or an errgroup.
func (p *Prober) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	first := true
	var healthy bool
	for {
		report := p.probe(ctx)
		if first || report.Healthy != healthy {
			first = false
			healthy = report.Healthy
			if !report.Healthy {
				p.log.Warn("backend unhealthy", zap.Error(report.Err))
			} else {
				p.log.Info("backend healthy", zap.Duration("latency", report.Latency))
			}
			if p.onChange != nil {
				p.onChange(report)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
		}
	}
}

func (p *Prober) probe(ctx context.Context) Report {
	start := p.clock.Now()
	report := Report{CheckedAt: start}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		report.Err = err
		return report
	}
	resp, err := p.client.Do(req)
	report.Latency = p.clock.Since(start)
	if err != nil {
		report.Err = err
		return report
	}
	defer resp.Body.Close()

	report.Healthy = resp.StatusCode == http.StatusOK
	if !report.Healthy {
		report.Err = &StatusError{Code: resp.StatusCode}
	}
	return report
}

// StatusError reports a non-OK health response.
type StatusError struct{ Code int }

func (e *StatusError) Error() string {
	return "health endpoint returned " + http.StatusText(e.Code)
}
