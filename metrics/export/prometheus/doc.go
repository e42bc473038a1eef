// Package prometheus exposes authgate counters through client_golang.
//
// [PrometheusExporter] is a collector that snapshots the engine on every
// scrape. Counter names are prefixed authgate_*_total; the single histogram
// is authgate_captcha_render_seconds.
//
// # What this package must NOT do
//
//   - Register into the global default registry. Callers mount Handler or
//     call Register with their own registry.
//   - Mutate engine state.
package prometheus
