// Package metrics contains all application-logic metrics
package metrics

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

var (
	blocksSeen           = metrics.NewCounter("blocks_seen_total")
	headReconnects       = metrics.NewCounter("head_stream_reconnects_total")
	sandwichesReceived   = metrics.NewCounter("sandwiches_received_total")
	sandwichesRejected   = metrics.NewCounter("sandwiches_rejected_total")
	megaSandwichesBuilt  = metrics.NewCounter("mega_sandwiches_built_total")
	megaSandwichesFailed = metrics.NewCounter("mega_sandwiches_failed_total")
	sweepsSent           = metrics.NewCounter("balance_sweeps_sent_total")
	sweepsFailed         = metrics.NewCounter("balance_sweeps_failed_total")
	balanceRefreshFailed = metrics.NewCounter("contract_balance_refresh_failed_total")
	poolsDiscovered      = metrics.NewCounter("pools_discovered_total")

	bundleSandwichCount = metrics.NewSummary("mega_sandwich_size")
)

const (
	relaySubmitLabel   = `relay_bundle_submit_total{relay="%s",success="%t"}`
	relayDurationLabel = `relay_bundle_submit_duration_milliseconds{relay="%s"}`
)

func IncBlocksSeen() {
	blocksSeen.Inc()
}

func IncHeadReconnects() {
	headReconnects.Inc()
}

func IncSandwichesReceived() {
	sandwichesReceived.Inc()
}

func IncSandwichesRejected() {
	sandwichesRejected.Inc()
}

func IncMegaSandwichesBuilt(sandwiches int) {
	megaSandwichesBuilt.Inc()
	bundleSandwichCount.Update(float64(sandwiches))
}

func IncMegaSandwichesFailed() {
	megaSandwichesFailed.Inc()
}

func IncSweepsSent() {
	sweepsSent.Inc()
}

func IncSweepsFailed() {
	sweepsFailed.Inc()
}

func IncBalanceRefreshFailed() {
	balanceRefreshFailed.Inc()
}

func AddPoolsDiscovered(n int) {
	poolsDiscovered.Add(n)
}

func RecordRelaySubmission(relay string, success bool, durationMs int64) {
	metrics.GetOrCreateCounter(fmt.Sprintf(relaySubmitLabel, relay, success)).Inc()
	metrics.GetOrCreateSummary(fmt.Sprintf(relayDurationLabel, relay)).Update(float64(durationMs))
}
