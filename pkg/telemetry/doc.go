// Package telemetry provides logging, tracing and metrics for pickup.
//
// Logging uses zerolog. Console output is split by level: records below
// warn go to stdout and are suppressed by quiet mode, warn and above go to
// stderr. Every record from debug upwards is also written to a size-rotated
// log file.
//
// Tracing uses OpenTelemetry. Each run and each plugin invocation is a span;
// spans are discarded, printed as JSON or sent to an OTLP collector.
//
// Metrics use Prometheus. Because a run is a short-lived process, the
// registry is written to a textfile for the node exporter instead of being
// served over HTTP.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Logging.Debug = true
//	cfg.Logging.File = "/var/log/pickup/pickup.log"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
package telemetry
