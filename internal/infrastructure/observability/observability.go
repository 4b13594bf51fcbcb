package observability

import (
	"github.com/Zhima-Mochi/minishop-allocation/internal/observability"
)

// Provider hands the tracer, logger and metrics chosen in main to every
// application component. Missing signals fall back to no-ops.
type Provider struct {
	tracer  observability.Tracer
	logger  observability.Logger
	metrics observability.Metrics
}

func New(tracer observability.Tracer, logger observability.Logger, metrics observability.Metrics) *Provider {
	if tracer == nil {
		tracer = observability.NopTracer()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	if metrics == nil {
		metrics = observability.NopMetrics()
	}
	return &Provider{tracer: tracer, logger: logger, metrics: metrics}
}

func (p *Provider) Tracer() observability.Tracer   { return p.tracer }
func (p *Provider) Logger() observability.Logger   { return p.logger }
func (p *Provider) Metrics() observability.Metrics { return p.metrics }

var _ observability.Observability = (*Provider)(nil)
