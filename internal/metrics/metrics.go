package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Supervisor metrics
var (
	RunnersActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kitsync_runners_active",
			Help: "Number of application processes in the runner registry",
		},
		[]string{"kit_id"},
	)

	SubscribersActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kitsync_subscribers_active",
			Help: "Number of telemetry subscribers",
		},
		[]string{"kit_id"},
	)

	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kitsync_commands_total",
			Help: "Total remote commands handled",
		},
		[]string{"cmd", "status"},
	)

	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kitsync_command_duration_seconds",
			Help:    "Time to handle a remote command",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 15.0, 60.0},
		},
		[]string{"cmd"},
	)

	TelemetryReadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kitsync_telemetry_reads_total",
			Help: "Signal reads made by the telemetry poller",
		},
		[]string{"result"},
	)

	MockProviderRestartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kitsync_mock_provider_restarts_total",
			Help: "Mock provider restarts",
		},
	)

	ExpiriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kitsync_expiries_total",
			Help: "Registry entries removed by the housekeeping sweeper",
		},
		[]string{"kind"},
	)

	StateReportsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kitsync_state_reports_total",
			Help: "Runtime state changes reported to the kit server",
		},
	)

	ModelGenerationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kitsync_model_generations_total",
			Help: "Vehicle model generations",
		},
		[]string{"result"},
	)

	ChannelConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kitsync_channel_connected",
			Help: "1 while the kit server channel is connected",
		},
	)
)

// Local API metrics
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kitsync_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		RunnersActive,
		SubscribersActive,
		CommandsTotal,
		CommandDuration,
		TelemetryReadsTotal,
		MockProviderRestartsTotal,
		ExpiriesTotal,
		StateReportsTotal,
		ModelGenerationsTotal,
		ChannelConnected,
		HTTPRequestsTotal,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// EchoMiddleware returns Echo middleware that instruments HTTP requests.
func EchoMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			HTTPRequestsTotal.WithLabelValues(
				c.Request().Method,
				c.Path(),
				strconv.Itoa(status),
			).Inc()
			return err
		}
	}
}

// ObserveCommand records one handled command.
func ObserveCommand(cmd string, status int, elapsed time.Duration) {
	CommandsTotal.WithLabelValues(cmd, strconv.Itoa(status)).Inc()
	CommandDuration.WithLabelValues(cmd).Observe(elapsed.Seconds())
}
