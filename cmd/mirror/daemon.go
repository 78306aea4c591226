package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	mirror "github.com/drpcorg/mirror"
	"github.com/drpcorg/mirror/network"
	"github.com/drpcorg/mirror/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// daemon is a mirror together with its network and HTTP surfaces.
type daemon struct {
	log     utils.Logger
	mirror  *mirror.Mirror
	net     *network.Net
	metrics *prometheus.Registry
	server  *http.Server
}

func openDaemon(ctx context.Context, cfg mirror.EnvConfig) (*daemon, error) {
	reg, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	opts := cfg.Options()
	opts.OnResync = network.RequestResync
	m, err := mirror.Open(reg, opts)
	if err != nil {
		return nil, err
	}
	d := &daemon{log: opts.Logger, mirror: m}
	if _, err := m.Replay(ctx); err != nil {
		_ = m.Close()
		return nil, err
	}

	d.metrics = prometheus.NewRegistry()
	d.metrics.MustRegister(collectors.NewGoCollector())
	d.metrics.MustRegister(mirror.Metrics()...)
	d.metrics.MustRegister(m.Collectors()...)

	d.net = network.NewNet(d.log, m, &network.NetWriteTimeoutOpt{Timeout: 30 * time.Second})
	for _, addr := range cfg.Listen {
		if err := d.net.Listen(addr); err != nil {
			d.Close()
			return nil, err
		}
	}
	for _, addr := range cfg.Connect {
		if err := d.net.Connect(addr); err != nil {
			d.Close()
			return nil, err
		}
	}
	if cfg.MetricsAddr != "" {
		d.serve(cfg.MetricsAddr)
	}
	return d, nil
}

func (d *daemon) serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(d.metrics, promhttp.HandlerOpts{}))
	mux.HandleFunc("/digest", AddCorsHeaders(DigestHandler(d)))
	mux.HandleFunc("/peers", AddCorsHeaders(PeersHandler(d)))
	mux.HandleFunc("/listen", AddCorsHeaders(ListenHandler(d)))
	mux.HandleFunc("/connect", AddCorsHeaders(ConnectHandler(d)))
	d.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		d.log.Info("http: serving", "addr", addr)
		if err := d.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.Error("http: server failed", "addr", addr, "err", err)
		}
	}()
}

func (d *daemon) Close() error {
	if d.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = d.server.Shutdown(ctx)
		cancel()
	}
	if d.net != nil {
		_ = d.net.Close()
	}
	return d.mirror.Close()
}
