/*
 * This file is part of Chihaya.
 *
 * Chihaya is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * Chihaya is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with Chihaya.  If not, see <http://www.gnu.org/licenses/>.
 */

package collector

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Collector struct {
	uptimeMetric   *prometheus.Desc
	swarmsMetric   *prometheus.Desc
	seedersMetric  *prometheus.Desc
	leechersMetric *prometheus.Desc

	deadlockTimeMetric    *prometheus.Desc
	deadlockCountMetric   *prometheus.Desc
	deadlockAbortedMetric *prometheus.Desc
	sqlErrorCountMetric   *prometheus.Desc
}

var (
	uptime   atomic.Uint64 // float64 bits
	swarms   atomic.Int64
	seeders  atomic.Int64
	leechers atomic.Int64

	deadlockTime    atomic.Int64 // nanoseconds
	deadlockCount   atomic.Uint64
	deadlockAborted atomic.Uint64
	sqlErrorCount   atomic.Uint64
)

var (
	requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chihaya_requests",
		Help: "Number of requests received",
	}, []string{"transport", "action"})
	erroredRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chihaya_requests_fail",
		Help: "Number of requests answered with a tracker error",
	}, []string{"transport"})
	droppedPackets = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chihaya_udp_dropped",
		Help: "Number of UDP datagrams dropped without a reply",
	}, []string{"reason"})
	persistenceErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chihaya_persistence_errors",
		Help: "Number of failed persistence operations",
	}, []string{"operation"})

	serializationTime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chihaya_serialization_seconds",
		Help:    "Histogram of the time taken to save swarms",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
	})
	reloadTime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chihaya_reload_seconds",
		Help:    "Histogram of the time taken to load swarms",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
	})
	purgePeersTime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chihaya_purge_inactive_peers_seconds",
		Help:    "Histogram of the time taken to purge inactive peers from memory",
		Buckets: []float64{.01, .05, .1, .15, .25, .35, .5, .75, 1, 1.25, 1.5, 1.75, 2.5, 5},
	})
)

func NewCollector() *Collector {
	return &Collector{
		uptimeMetric: prometheus.NewDesc("chihaya_uptime",
			"System uptime in seconds", nil, nil),
		swarmsMetric: prometheus.NewDesc("chihaya_torrents",
			"Number of swarms currently being tracked", nil, nil),
		seedersMetric: prometheus.NewDesc("chihaya_seeders",
			"Number of seeders currently being tracked", nil, nil),
		leechersMetric: prometheus.NewDesc("chihaya_leechers",
			"Number of leechers currently being tracked", nil, nil),

		deadlockCountMetric: prometheus.NewDesc("chihaya_deadlock_count",
			"Number of unique database deadlocks encountered", nil, nil),
		deadlockAbortedMetric: prometheus.NewDesc("chihaya_deadlock_aborted_count",
			"Number of times deadlock retries were exceeded", nil, nil),
		deadlockTimeMetric: prometheus.NewDesc("chihaya_deadlock_seconds_total",
			"Total time wasted awaiting to free deadlock", nil, nil),
		sqlErrorCountMetric: prometheus.NewDesc("chihaya_sql_errors_count",
			"Number of SQL errors", nil, nil),
	}
}

func (collector *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- collector.uptimeMetric
	ch <- collector.swarmsMetric
	ch <- collector.seedersMetric
	ch <- collector.leechersMetric
	ch <- collector.deadlockCountMetric
	ch <- collector.deadlockAbortedMetric
	ch <- collector.deadlockTimeMetric
	ch <- collector.sqlErrorCountMetric

	requests.Describe(ch)
	erroredRequests.Describe(ch)
	droppedPackets.Describe(ch)
	persistenceErrors.Describe(ch)

	reloadTime.Describe(ch)
	purgePeersTime.Describe(ch)
	serializationTime.Describe(ch)
}

func (collector *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(collector.uptimeMetric, prometheus.CounterValue,
		math.Float64frombits(uptime.Load()))
	ch <- prometheus.MustNewConstMetric(collector.swarmsMetric, prometheus.GaugeValue, float64(swarms.Load()))
	ch <- prometheus.MustNewConstMetric(collector.seedersMetric, prometheus.GaugeValue, float64(seeders.Load()))
	ch <- prometheus.MustNewConstMetric(collector.leechersMetric, prometheus.GaugeValue, float64(leechers.Load()))
	ch <- prometheus.MustNewConstMetric(collector.deadlockCountMetric, prometheus.CounterValue,
		float64(deadlockCount.Load()))
	ch <- prometheus.MustNewConstMetric(collector.deadlockAbortedMetric, prometheus.CounterValue,
		float64(deadlockAborted.Load()))
	ch <- prometheus.MustNewConstMetric(collector.deadlockTimeMetric, prometheus.CounterValue,
		time.Duration(deadlockTime.Load()).Seconds())
	ch <- prometheus.MustNewConstMetric(collector.sqlErrorCountMetric, prometheus.CounterValue,
		float64(sqlErrorCount.Load()))

	requests.Collect(ch)
	erroredRequests.Collect(ch)
	droppedPackets.Collect(ch)
	persistenceErrors.Collect(ch)

	reloadTime.Collect(ch)
	purgePeersTime.Collect(ch)
	serializationTime.Collect(ch)
}

func UpdateUptime(seconds float64) {
	uptime.Store(math.Float64bits(seconds))
}

func UpdateSwarms(count, seederCount, leecherCount int) {
	swarms.Store(int64(count))
	seeders.Store(int64(seederCount))
	leechers.Store(int64(leecherCount))
}

func IncrementRequests(transport, action string) {
	requests.WithLabelValues(transport, action).Inc()
}

func IncrementErroredRequests(transport string) {
	erroredRequests.WithLabelValues(transport).Inc()
}

func IncrementDroppedPackets(reason string) {
	droppedPackets.WithLabelValues(reason).Inc()
}

func IncrementPersistenceErrors(operation string) {
	persistenceErrors.WithLabelValues(operation).Inc()
}

func IncrementDeadlockCount() {
	deadlockCount.Add(1)
}

func IncrementDeadlockTime(time time.Duration) {
	deadlockTime.Add(int64(time))
}

func IncrementDeadlockAborted() {
	deadlockAborted.Add(1)
}

func IncrementSQLErrorCount() {
	sqlErrorCount.Add(1)
}

func UpdateSerializationTime(time time.Duration) {
	serializationTime.Observe(time.Seconds())
}

func UpdateReloadTime(time time.Duration) {
	reloadTime.Observe(time.Seconds())
}

func UpdatePurgeInactivePeersTime(time time.Duration) {
	purgePeersTime.Observe(time.Seconds())
}
