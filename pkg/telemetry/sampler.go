package telemetry

import (
	"strconv"

	"go.opentelemetry.io/otel/sdk/trace"
)

// createSampler maps cfg.Sampler to a trace.Sampler. Unknown or empty
// values sample everything.
func createSampler(cfg *Config) trace.Sampler {
	ratio := parseRatio(cfg.SamplerArg)
	samplers := map[string]trace.Sampler{
		"always_on":                trace.AlwaysSample(),
		"always_off":               trace.NeverSample(),
		"traceidratio":             trace.TraceIDRatioBased(ratio),
		"parentbased_always_on":    trace.ParentBased(trace.AlwaysSample()),
		"parentbased_always_off":   trace.ParentBased(trace.NeverSample()),
		"parentbased_traceidratio": trace.ParentBased(trace.TraceIDRatioBased(ratio)),
	}
	if s, ok := samplers[cfg.Sampler]; ok {
		return s
	}
	return trace.AlwaysSample()
}

// parseRatio parses a sampling ratio clamped to [0, 1]; bad input means 1.
func parseRatio(s string) float64 {
	ratio, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 1.0
	}
	return min(max(ratio, 0), 1)
}
