// Prometheus metrics for the resolver: node/service/edge counts plus
// cumulative envelope byte counters, exposed on an optional /metrics
// endpoint, using github.com/prometheus/client_golang for the
// counters/gauges.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package resolver

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsSet struct {
	nodes         prometheus.GaugeFunc
	services      prometheus.GaugeFunc
	edges         prometheus.GaugeFunc
	sweeps        prometheus.Counter
	bytesEncoded  prometheus.Counter
	bytesDecoded  prometheus.Counter
	registry      *prometheus.Registry
}

func newMetrics(s *store) *metricsSet {
	reg := prometheus.NewRegistry()
	m := &metricsSet{
		nodes: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "b0_resolver_nodes", Help: "Currently live nodes.",
		}, func() float64 { return float64(s.nodeCount()) }),
		services: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "b0_resolver_services", Help: "Currently registered services.",
		}, func() float64 { return float64(s.serviceCount()) }),
		edges: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "b0_resolver_graph_edges", Help: "Current node-topic plus node-service edges.",
		}, func() float64 { return float64(s.edgeCount()) }),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "b0_resolver_sweeps_total", Help: "Heartbeat sweeps performed.",
		}),
		bytesEncoded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "b0_envelope_bytes_encoded_total", Help: "Bytes produced by envelope encoding.",
		}),
		bytesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "b0_envelope_bytes_decoded_total", Help: "Bytes consumed by envelope decoding.",
		}),
		registry: reg,
	}
	reg.MustRegister(m.nodes, m.services, m.edges, m.sweeps, m.bytesEncoded, m.bytesDecoded)
	return m
}

// Serve starts an HTTP server exposing the registry on addr. It runs
// until the listener fails or the process exits; resolvers that don't
// configure a metrics address never call this.
func (m *metricsSet) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}
