package metrics

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/asfadmin/grfn-distribution/logging"
)

var (
	ArchivedObjectsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "archived_objects",
		Help: "Objects waiting for a restore request to be issued.",
	})

	RetrievingObjectsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "retrieving_objects",
		Help: "Objects with a restore request in flight.",
	})

	OpenBundlesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "open_bundles",
		Help: "Bundles still waiting for all of their objects.",
	})

	RestoreRequestsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "restore_requests_total",
		Help: "Restore requests issued to the cold storage backend, by tier.",
	}, []string{"tier"})

	ClosedBundlesCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "closed_bundles_total",
		Help: "Bundles closed after all of their objects became available.",
	})

	NotificationsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Notification messages processed, by type and outcome.",
	}, []string{"type", "outcome"})

	MetricsItems = []prometheus.Collector{
		ArchivedObjectsGauge,
		RetrievingObjectsGauge,
		OpenBundlesGauge,
		RestoreRequestsCounter,
		ClosedBundlesCounter,
		NotificationsCounter,
	}
)

const DefaultMetricsAddress = "0.0.0.0:9090"

type Metrics struct {
	httpAddress string
	registry    *prometheus.Registry
	httpServer  *http.Server
}

func NewMetrics(address string) *Metrics {
	if address == "" {
		address = DefaultMetricsAddress
	}
	return &Metrics{
		httpAddress: address,
		registry:    prometheus.NewRegistry(),
	}
}

func (m *Metrics) Start() {
	m.registry.MustRegister(MetricsItems...)
	go m.serve()
}

func (m *Metrics) serve() {
	router := mux.NewRouter()
	router.Path("/metrics").Handler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	m.httpServer = &http.Server{
		Addr:              m.httpAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := m.httpServer.ListenAndServe(); err != nil {
		logging.Logger.Errorf("failed to start metrics server, err=%s", err.Error())
	}
}
