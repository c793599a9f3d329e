// Copyright 2026 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Label constants.
const (
	LblType    = "type"
	LblResult  = "result"
	LblReplica = "replica"
	LblState   = "state"
	LblAction  = "action"

	opSucc   = "ok"
	opFailed = "err"
)

// Schema transaction and dictionary metrics.
var (
	SchemaTransCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "schemadict",
			Subsystem: "ddl",
			Name:      "schema_trans_total",
			Help:      "Counter of finished schema transactions.",
		}, []string{LblType, LblResult})

	SchemaTransDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "schemadict",
			Subsystem: "ddl",
			Name:      "schema_trans_duration_seconds",
			Help:      "Bucketed histogram of processing time (s) of schema transactions.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 20), // 0.5ms ~ 524s
		}, []string{LblType})

	PartialFailureCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "schemadict",
			Subsystem: "ddl",
			Name:      "participant_failure_total",
			Help:      "Counter of participant replies synthesized because the node failed.",
		})

	DictLockGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "schemadict",
			Subsystem: "ddl",
			Name:      "dict_lock",
			Help:      "Number of dict locks by state.",
		}, []string{LblState})

	AdmissionRejectCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "schemadict",
			Subsystem: "ddl",
			Name:      "admission_reject_total",
			Help:      "Counter of top-level requests rejected before a transaction started.",
		}, []string{LblType})

	SchemaFileWriteCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "schemadict",
			Subsystem: "schemafile",
			Name:      "write_total",
			Help:      "Counter of schema file replica writes.",
		}, []string{LblReplica, LblResult})

	SchemaFileReadFallbackCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "schemadict",
			Subsystem: "schemafile",
			Name:      "read_fallback_total",
			Help:      "Counter of schema file loads served by the secondary replica.",
		})

	RestartPassCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "schemadict",
			Subsystem: "restart",
			Name:      "reconcile_action_total",
			Help:      "Counter of create/drop actions executed by restart reconciliation.",
		}, []string{LblAction})
)

// Dict lock states.
const (
	LockQueued  = "queued"
	LockGranted = "granted"
)

// RetLabel returns "ok" when err == nil and "err" when err != nil.
// This could be useful when you need to observe the operation result.
func RetLabel(err error) string {
	if err == nil {
		return opSucc
	}
	return opFailed
}

// RegisterMetrics registers the metrics which are ONLY used in the dictionary.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(SchemaTransCounter)
	reg.MustRegister(SchemaTransDuration)
	reg.MustRegister(PartialFailureCounter)
	reg.MustRegister(DictLockGauge)
	reg.MustRegister(AdmissionRejectCounter)
	reg.MustRegister(SchemaFileWriteCounter)
	reg.MustRegister(SchemaFileReadFallbackCounter)
	reg.MustRegister(RestartPassCounter)
}
