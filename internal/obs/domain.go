package obs

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"soundmint.org/internal/events"
)

var (
	mintsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mints_total",
		Help: "Successful mint batches.",
	})
	mintedTokensTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "minted_tokens_total",
		Help: "Token units minted.",
	})
	paymentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_minor_units_total",
		Help: "Mint payments distributed, in the smallest currency unit.",
	}, []string{"recipient"})
	withdrawalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "treasury_withdrawals_total",
		Help: "Treasury withdrawal state transitions by result.",
	}, []string{"result"})
	withdrawnTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "treasury_withdrawn_minor_units_total",
		Help: "Value paid out by executed withdrawals.",
	})
	artistsRegistered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "artists_registered_total",
		Help: "Artists registered with the factory.",
	})
)

func domainCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		mintsTotal, mintedTokensTotal, paymentsTotal,
		withdrawalsTotal, withdrawnTotal, artistsRegistered,
	}
}

// Domain feeds component activity into Prometheus. It satisfies the mint and
// treasury observer interfaces and, as an events.Publisher, counts registrations.
type Domain struct{}

func (Domain) ObserveMint(tokens int, artistShare, platformFee int64) {
	mintsTotal.Inc()
	mintedTokensTotal.Add(float64(tokens))
	paymentsTotal.WithLabelValues("artist").Add(float64(artistShare))
	paymentsTotal.WithLabelValues("treasury").Add(float64(platformFee))
}

func (Domain) ObserveWithdrawal(result string, amount int64) {
	withdrawalsTotal.WithLabelValues(result).Inc()
	if result == "executed" {
		withdrawnTotal.Add(float64(amount))
	}
}

func (Domain) Publish(_ context.Context, evt events.Event) error {
	if evt.Type == events.TypeArtistRegistered {
		artistsRegistered.Inc()
	}
	return nil
}
