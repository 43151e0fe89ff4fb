// Package telemetry publishes run and storage metrics to Prometheus.
package telemetry
