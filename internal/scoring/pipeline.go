// Package scoring turns the judge's text into a trusted call score:
// parse, validate against the rubric, recompute, build the report.
//
// Everything here is synchronous and free of shared mutable state; callers
// may run any number of pipelines concurrently against the same rubric.
package scoring

import (
	"log"

	"monitorai/internal/rubric"
)

type options struct {
	logger *log.Logger
}

type Option func(*options)

// WithLogger routes discrepancy warnings to l instead of the default logger.
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Evaluate runs the whole pipeline on one judge response. It returns either
// a complete report or a *Error; never both.
func Evaluate(raw string, r *rubric.Rubric, opts ...Option) (Report, error) {
	o := options{logger: log.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	record, err := ParseResponse(raw)
	if err != nil {
		return Report{}, err
	}
	sk, err := Validate(record, r)
	if err != nil {
		return Report{}, err
	}
	res := Aggregate(sk, r, o.logger)
	return BuildReport(res, r), nil
}
