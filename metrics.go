/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package disburse

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	disbursementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "disburse_disbursements_total",
		Help: "Disbursement requests by outcome",
	}, []string{"outcome"})

	guardDetections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "disburse_guard_detections_total",
		Help: "Duplicate and fraud guard detections by type and action",
	}, []string{"type", "action"})

	persistenceIncidents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "disburse_persistence_incidents_total",
		Help: "Provider-accepted disbursements that could not be recorded",
	})

	callbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "disburse_callbacks_total",
		Help: "Provider callbacks by type and outcome",
	}, []string{"type", "outcome"})

	fundsQueueItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "disburse_funds_queue_items_total",
		Help: "Insufficient-funds queue item transitions",
	}, []string{"result"})

	providerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "disburse_provider_request_duration_seconds",
		Help:    "Latency of provider calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	balanceAlerts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "disburse_balance_alerts_total",
		Help: "Low balance alerts raised",
	})
)
