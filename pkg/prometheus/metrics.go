// Package prometheus builds the go-kit metrics used by the aggregation
// middleware and pushes them to a Pushgateway once a run is over.
package prometheus

import (
	"context"
	"fmt"
	"sync"

	smqprometheus "github.com/absmach/supermq/pkg/prometheus"
	kitprometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

type Metrics struct {
	Counter       *kitprometheus.Counter
	Latency       *kitprometheus.Summary
	Contributions *kitprometheus.Gauge
}

var (
	mu    sync.Mutex
	built = map[string]Metrics{}
)

// MakeMetrics returns the request metrics and the contribution gauge for
// namespace and subsystem, registered on the default registry. Collectors
// are registered once per process and reused on later calls.
func MakeMetrics(namespace, subsystem string) Metrics {
	mu.Lock()
	defer mu.Unlock()

	key := namespace + "_" + subsystem
	if m, ok := built[key]; ok {
		return m
	}

	counter, latency := smqprometheus.MakeMetrics(namespace, subsystem)
	contributions := kitprometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "contributions",
		Help:      "Edge contributions of the last aggregation by state.",
	}, []string{"state"})

	m := Metrics{Counter: counter, Latency: latency, Contributions: contributions}
	built[key] = m

	return m
}

// Push sends everything registered on the default registry to the
// Pushgateway at url under job.
func Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(stdprometheus.DefaultGatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}

	return nil
}
