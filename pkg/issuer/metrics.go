package issuer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/capiscio/meta-issuer/pkg/apierror"
)

type metrics struct {
	prepared    *prometheus.CounterVec
	issued      *prometheus.CounterVec
	groupOps    *prometheus.CounterVec
	pending     prometheus.Gauge
	certificate prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	auto := promauto.With(reg)
	return &metrics{
		prepared: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "metaissuer_credentials_prepared_total",
			Help: "Total number of prepare_credential calls by result."},
			[]string{"result"}),
		issued: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "metaissuer_credentials_issued_total",
			Help: "Total number of get_credential calls by result."},
			[]string{"result"}),
		groupOps: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "metaissuer_group_operations_total",
			Help: "Total number of group and user operations by operation and result."},
			[]string{"op", "result"}),
		pending: auto.NewGauge(prometheus.GaugeOpts{
			Name: "metaissuer_pending_signatures",
			Help: "Number of signatures held in the signature map."}),
		certificate: auto.NewGauge(prometheus.GaugeOpts{
			Name: "metaissuer_certificate_timestamp_seconds",
			Help: "Time of the latest commitment certificate."}),
	}
}

// result maps an error to a low-cardinality label value.
func result(err error) string {
	if err == nil {
		return "ok"
	}
	return apierror.GetErrorCode(err)
}
