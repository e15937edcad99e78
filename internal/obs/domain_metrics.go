package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentAuthorizationTotal counts checkout authorization outcomes:
	// success, rejected, invalid, misconfigured or transport.
	PaymentAuthorizationTotal *prometheus.CounterVec
	// PaymentVendorLatency records processor round trips in milliseconds.
	PaymentVendorLatency *prometheus.HistogramVec
	// OrderHandoffTotal counts order record hand-off outcomes on both the
	// enqueue and the delivery side.
	OrderHandoffTotal *prometheus.CounterVec
	// InstallmentQuoteTotal counts installment quote requests.
	InstallmentQuoteTotal prometheus.Counter
)

// MustRegisterDomainMetrics initialises and registers checkout collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentAuthorizationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_authorization_total",
			Help:      "Count of payment authorization outcomes.",
		}, []string{"result"})
		PaymentVendorLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payment_vendor_duration_ms",
			Help:      "Latency of payment processor calls in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}, []string{"result"})
		OrderHandoffTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_handoff_total",
			Help:      "Count of order record hand-off outcomes.",
		}, []string{"result"})
		InstallmentQuoteTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "installment_quote_total",
			Help:      "Number of installment quotes served.",
		})

		mustRegisterCollector(reg, PaymentAuthorizationTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentAuthorizationTotal = v
			}
		})
		mustRegisterCollector(reg, PaymentVendorLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				PaymentVendorLatency = v
			}
		})
		mustRegisterCollector(reg, OrderHandoffTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				OrderHandoffTotal = v
			}
		})
		mustRegisterCollector(reg, InstallmentQuoteTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				InstallmentQuoteTotal = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register collector: %w", err))
	}
}
