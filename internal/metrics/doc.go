// Package metrics exports session and device state as Prometheus metrics.
//
// A Collector is passed to session controllers as their Recorder and
// subscribed to each controller's fan-out with Observer. Handler serves the
// text exposition format for scraping.
package metrics
