// Command rcp-echo runs an RCP echo server: every byte a client sends is
// streamed back verbatim. It exists to give the protocol a runnable
// collaborator for manual and load testing, grounded directly on
// rcp_echo.py's listen-and-serve loop.
package main

import (
	"flag"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/ulmenhaus/rcp/internal/rcp"
)

func main() {
	bindAddr := flag.String("addr", "0.0.0.0:4321", "UDP address to bind the RCP listener to")
	metricsAddr := flag.String("metrics-addr", ":9321", "address to serve Prometheus metrics on")
	logLevel := flag.String("log-level", "info", "logrus level (debug, info, warn, error)")
	flag.Parse()

	log := logrus.StandardLogger()
	if lvl, err := logrus.ParseLevel(*logLevel); err == nil {
		log.SetLevel(lvl)
	}

	cfg := rcp.DefaultConfig()
	cfg.Logger = log

	router, err := rcp.NewRouter(*bindAddr, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to start router")
	}
	prometheus.MustRegister(router.Collector())

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		log.WithField("addr", *metricsAddr).Info("serving metrics")
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			log.WithError(err).Error("metrics server stopped")
		}
	}()

	router.Listen()
	log.WithField("addr", *bindAddr).Info("rcp-echo listening")
	listenAndServe(router, log)
}

func listenAndServe(router *rcp.Router, log *logrus.Logger) {
	for {
		session := router.Accept()
		if session == nil {
			return
		}
		go serve(session, log)
	}
}

func serve(session *rcp.Session, log *logrus.Logger) {
	entry := log.WithField("session", session.ID())
	entry.Info("session accepted")
	for {
		msg := session.Recv()
		if len(msg) == 0 {
			break
		}
		if err := session.Send(msg); err != nil {
			entry.WithError(err).Warn("echo write failed")
			break
		}
	}
	session.Close()
	entry.Info("session finished")
}
