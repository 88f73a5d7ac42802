package k8s

import "log/slog"

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the provider logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithLeaseName names the Lease the scheduler leader holds.
// Default: "conductor-leader".
func WithLeaseName(name string) Option {
	return func(p *Provider) {
		if name != "" {
			p.leaseName = name
		}
	}
}

// WithLabelSelector selects the Pods that run conductor processes.
// Default: "app.kubernetes.io/component=conductor".
func WithLabelSelector(sel string) Option {
	return func(p *Provider) {
		if sel != "" {
			p.labelSelector = sel
		}
	}
}

// WithAnnotationPrefix sets the prefix of the worker annotations.
// Default: "conductor.xraph.com/".
func WithAnnotationPrefix(prefix string) Option {
	return func(p *Provider) {
		if prefix != "" {
			p.annotationPrefix = prefix
		}
	}
}
