package metrics

import (
	"math/big"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ContributionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sale_contributions_accepted_total",
		Help: "Number of accepted contributions",
	})

	ContributionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sale_contributions_rejected_total",
		Help: "Number of rejected contributions by reason",
	}, []string{"reason"})

	WeiContributed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sale_wei_contributed",
		Help: "Total wei admitted into the sale",
	})

	SaleStage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sale_stage",
		Help: "Current sale stage (0=freeze 1=inProgress 2=ended)",
	})

	VaultState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sale_vault_state",
		Help: "Current vault state (0=active 1=success 2=refunding 3=closed)",
	})

	RefundsPaid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sale_refunds_paid_total",
		Help: "Number of refunds paid out",
	})

	RefundedWei = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sale_refunded_wei_total",
		Help: "Total wei refunded to contributors",
	})

	DisbursementsPaid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sale_disbursements_paid_total",
		Help: "Number of tranche payouts (vault wallet sends and registry withdrawals)",
	})

	TokensAllocated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sale_tokens_allocated_total",
		Help: "Number of contributors that received their token allocation",
	})
)

// SetWei sets a gauge from a big.Int amount. Precision above 2^53 wei is
// lost in the float conversion; the authoritative figures stay in the
// engine's read state.
func SetWei(g prometheus.Gauge, amount *big.Int) {
	f, _ := new(big.Float).SetInt(amount).Float64()
	g.Set(f)
}

// AddWei adds a big.Int amount to a counter, with the same float caveat.
func AddWei(c prometheus.Counter, amount *big.Int) {
	f, _ := new(big.Float).SetInt(amount).Float64()
	c.Add(f)
}

// Handler exposes the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
