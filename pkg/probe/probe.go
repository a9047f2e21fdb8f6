// Package probe performs single, bounded reachability checks.
package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/ftschopp/pve-scripts/pkg/runner"
)

// DefaultTimeout bounds a single probe attempt.
const DefaultTimeout = 5 * time.Second

// Kind selects how a target is probed.
type Kind string

const (
	// KindPing sends one ICMP echo through the system ping binary.
	KindPing Kind = "ping"
	// KindTCP attempts a TCP connect.
	KindTCP Kind = "tcp"
	// KindHTTP issues an unauthenticated GET.
	KindHTTP Kind = "http"
)

// Valid reports whether k is a known probe kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPing, KindTCP, KindHTTP:
		return true
	}
	return false
}

// Target describes what to probe.
type Target struct {
	Kind   Kind
	Host   string
	Port   int
	Scheme string // http or https, http kind only
	Path   string // request path, http kind only
}

// String renders the target for logs.
func (t Target) String() string {
	switch t.Kind {
	case KindPing:
		return fmt.Sprintf("ping://%s", t.Host)
	case KindTCP:
		return fmt.Sprintf("tcp://%s", net.JoinHostPort(t.Host, strconv.Itoa(t.Port)))
	default:
		return t.URL()
	}
}

// URL builds the request URL for an http probe.
func (t Target) URL() string {
	scheme := t.Scheme
	if scheme == "" {
		scheme = "http"
	}
	path := t.Path
	if path == "" || path[0] != '/' {
		path = "/" + path
	}
	host := t.Host
	if t.Port > 0 {
		host = net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, path)
}

// Prober runs health checks. A failed check is reported as false, never as
// an error.
type Prober struct {
	runner  runner.Runner
	timeout time.Duration
	client  *http.Client
	logger  zerolog.Logger
}

// Option configures a Prober.
type Option func(*Prober)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Prober) {
		p.logger = logger.With().Str("component", "probe").Logger()
	}
}

// New creates a Prober. The runner is used for ping checks so they execute
// wherever the adapters execute.
func New(r runner.Runner, opts ...Option) *Prober {
	p := &Prober{
		runner:  r,
		timeout: DefaultTimeout,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.client = &http.Client{
		Timeout: p.timeout,
		Transport: &http.Transport{
			// Appliance web UIs usually serve self-signed certificates.
			TLSClientConfig:   &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			DisableKeepAlives: true,
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return p
}

// Check performs one attempt against target.
func (p *Prober) Check(ctx context.Context, target Target) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var (
		ok  bool
		err error
	)
	switch target.Kind {
	case KindPing:
		ok, err = p.checkPing(ctx, target)
	case KindTCP:
		ok, err = p.checkTCP(ctx, target)
	case KindHTTP:
		ok, err = p.checkHTTP(ctx, target)
	default:
		err = fmt.Errorf("unknown probe kind %q", target.Kind)
	}

	p.logger.Debug().
		Str("target", target.String()).
		Bool("ok", ok).
		Err(err).
		Msg("probe attempt")
	return ok
}

func (p *Prober) checkPing(ctx context.Context, target Target) (bool, error) {
	if p.runner == nil {
		return false, fmt.Errorf("no command runner configured for ping")
	}
	wait := int(math.Ceil(p.timeout.Seconds()))
	if wait < 1 {
		wait = 1
	}
	if _, err := p.runner.Run(ctx, "ping", "-c", "1", "-W", strconv.Itoa(wait), target.Host); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Prober) checkTCP(ctx context.Context, target Target) (bool, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(target.Host, strconv.Itoa(target.Port)))
	if err != nil {
		return false, err
	}
	_ = conn.Close()
	return true, nil
}

func (p *Prober) checkHTTP(ctx context.Context, target Target) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL(), nil)
	if err != nil {
		return false, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return true, nil
	}
	return false, fmt.Errorf("unexpected status %d", resp.StatusCode)
}
