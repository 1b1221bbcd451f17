/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// netframed runs a netframe server with a Prometheus metrics endpoint.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"gitlab.com/xerra/common/go-netframe/internal/clients"
	"gitlab.com/xerra/common/go-netframe/pkg/metrics"
	"gitlab.com/xerra/common/go-netframe/server"
	"gitlab.com/xerra/common/go-netframe/wire"
)

func main() {
	tcpAddr := flag.String("tcp-addr", ":9990", "TCP listen address")
	udpAddr := flag.String("udp-addr", "", "UDP listen address (disabled if empty)")
	metricsAddr := flag.String("metrics-addr", ":9991", "Prometheus metrics listen address")
	maxPayload := flag.Int("max-payload", wire.TCPPayloadSizeMaxDefault, "maximum accepted frame payload size, in bytes")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	log := logrus.StandardLogger()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	collector := metrics.New("netframe_server")
	prometheus.MustRegister(collector)

	cfg := server.Config{
		TCPAddr:        *tcpAddr,
		UDPAddr:        *udpAddr,
		MaxPayloadSize: *maxPayload,
		Logger:         log,
		Metrics:        collector,
		OnConnected: func(state *clients.State) {
			log.WithField("peer", state.PeerKey).WithField("client_id", state.ID.String()).Info("netframe: client connected")
		},
		OnDisconnected: func(state *clients.State, reason wire.DisconnectReason) {
			log.WithField("peer", state.PeerKey).WithField("reason", reason.String()).Info("netframe: client disconnected")
		},
	}

	srv, err := server.New(cfg)
	if err != nil {
		log.WithError(err).Fatal("netframe: configuration error")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("netframe: metrics server stopped")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.ListenAndServe(ctx); err != nil {
			log.WithError(err).Fatal("netframe: server stopped")
		}
	}()

	<-ctx.Done()
	log.Info("netframe: shutting down")
	if err := srv.Dispose(); err != nil {
		log.WithError(err).Warn("netframe: dispose did not complete cleanly")
	}
	metricsSrv.Close()
}
