package keepalive

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultInterval = 14 * time.Minute
	DefaultTimeout  = 30 * time.Second
)

// Enabled reports whether the process looks like a production deployment.
// lookup has the signature of os.LookupEnv.
func Enabled(lookup func(string) (string, bool)) bool {
	if v, ok := lookup("RENDER_INSTANCE_ID"); ok && v != "" {
		return true
	}
	if v, ok := lookup("WORKER_CLASS"); ok && v != "" {
		return true
	}
	// The development reloader sets RELOADER_MAIN_PID in its child process.
	v, _ := lookup("RELOADER_MAIN_PID")
	return v == ""
}

// TargetURL is the root URL the service pings to keep itself awake.
func TargetURL(externalURL, port string) string {
	if externalURL != "" {
		return strings.TrimRight(externalURL, "/") + "/"
	}
	return "http://localhost:" + port + "/"
}

// Pinger periodically GETs a URL and logs the outcome. Failures never escalate.
type Pinger struct {
	URL      string
	Interval time.Duration
	Timeout  time.Duration
	Client   *http.Client
	Logger   *zap.Logger
}

func New(url string, interval, timeout time.Duration, logger *zap.Logger) *Pinger {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Pinger{
		URL:      url,
		Interval: interval,
		Timeout:  timeout,
		Client:   &http.Client{},
		Logger:   logger,
	}
}

// Start launches the loop in a goroutine. The returned stop function cancels
// the loop and waits for it to exit.
func (p *Pinger) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.run(ctx)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}
}

func (p *Pinger) run(ctx context.Context) {
	p.Logger.Info("Keep-alive started", zap.String("url", p.URL), zap.Duration("interval", p.Interval))
	timer := time.NewTimer(p.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.Logger.Info("Keep-alive stopped")
			return
		case <-timer.C:
		}

		p.ping(ctx)
		timer.Reset(p.Interval)
	}
}

// ping performs one request. It returns true on a 2xx response.
func (p *Pinger) ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		p.Logger.Warn("Keep-alive request could not be built", zap.Error(err))
		return false
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		p.Logger.Warn("Keep-alive ping failed", zap.String("url", p.URL), zap.Error(err))
		return false
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		p.Logger.Warn("Keep-alive ping returned non-success status",
			zap.String("url", p.URL), zap.Int("status", resp.StatusCode))
		return false
	}
	p.Logger.Info("Keep-alive ping succeeded", zap.String("url", p.URL), zap.Int("status", resp.StatusCode))
	return true
}
