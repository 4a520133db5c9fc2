// Package readiness waits for Keycloak to accept HTTP traffic before any
// admin call is made.
package readiness

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-resty/resty/v2"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/Hostzero-GmbH/keycloak-provisioner/internal/metrics"
)

// Default timing constants
const (
	DefaultTimeout        = 30 * time.Second
	DefaultPollInterval   = time.Second
	DefaultRequestTimeout = 3 * time.Second
)

// Options configures a Gate. Zero values fall back to the defaults.
type Options struct {
	// Timeout bounds the whole wait.
	Timeout time.Duration
	// PollInterval is the fixed pause between rounds.
	PollInterval time.Duration
	// RequestTimeout bounds each probe.
	RequestTimeout time.Duration
	// Success decides whether a response counts as ready. Defaults to any 2xx.
	Success func(*resty.Response) bool
}

// Gate polls candidate URLs until one of them answers successfully.
type Gate struct {
	opts       Options
	httpClient *resty.Client
	log        logr.Logger
}

// NewGate creates a Gate
func NewGate(opts Options, log logr.Logger) *Gate {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Success == nil {
		opts.Success = func(resp *resty.Response) bool { return resp.IsSuccess() }
	}

	return &Gate{
		opts:       opts,
		httpClient: resty.New().SetTimeout(opts.RequestTimeout).SetRetryCount(0),
		log:        log.WithName("readiness"),
	}
}

// WaitUntilReady probes urls in order, round after round, and returns true as
// soon as one passes. It returns false once the timeout elapses or ctx is
// canceled. The first round starts immediately.
func (g *Gate) WaitUntilReady(ctx context.Context, urls []string) bool {
	if len(urls) == 0 {
		return false
	}

	start := time.Now()
	defer func() {
		metrics.ReadinessWait.Set(time.Since(start).Seconds())
	}()

	var lastErr error
	rounds := 0
	err := wait.PollUntilContextTimeout(ctx, g.opts.PollInterval, g.opts.Timeout, true, func(ctx context.Context) (bool, error) {
		rounds++
		for _, u := range urls {
			resp, err := g.httpClient.R().SetContext(ctx).Get(u)
			if err != nil {
				lastErr = err
				g.log.V(1).Info("probe failed", "url", u, "error", err.Error())
				continue
			}
			if g.opts.Success(resp) {
				g.log.Info("Keycloak is ready", "url", u, "elapsed", time.Since(start).Round(time.Millisecond).String())
				return true, nil
			}
			lastErr = errors.New(resp.Status())
			g.log.V(1).Info("probe not ready", "url", u, "status", resp.StatusCode())
		}
		return false, nil
	})
	if err == nil {
		return true
	}

	if lastErr == nil {
		lastErr = err
	}
	g.log.Info("Keycloak did not become ready", "timeout", g.opts.Timeout.String(), "rounds", rounds, "lastError", lastErr.Error())
	return false
}

// KeycloakURLs returns the probe URLs for a Keycloak server: the master
// realm's discovery document, the master realm and the root page.
func KeycloakURLs(baseURL string) []string {
	base := strings.TrimSuffix(baseURL, "/")
	return []string{
		base + "/realms/master/.well-known/openid-configuration",
		base + "/realms/master",
		base + "/",
	}
}

// WaitForKeycloak waits until the Keycloak server at baseURL is reachable.
func WaitForKeycloak(ctx context.Context, baseURL string, opts Options, log logr.Logger) bool {
	return NewGate(opts, log).WaitUntilReady(ctx, KeycloakURLs(baseURL))
}
