// Copyright 2025 CiclistaApp Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	accountsCreatedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ciclista",
		Subsystem: "sync",
		Name:      "accounts_created_total",
		Help:      "Accounts created through the sync endpoint.",
	})
	routesCreatedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ciclista",
		Subsystem: "sync",
		Name:      "routes_created_total",
		Help:      "Routes created through the sync endpoint.",
	})
	accountLookupCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ciclista",
		Subsystem: "sync",
		Name:      "account_lookups_total",
		Help:      "Account-by-email lookups, partitioned by result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(accountsCreatedCounter, routesCreatedCounter, accountLookupCounter)
}

func recordAccountCreated() { accountsCreatedCounter.Inc() }

func recordRouteCreated() { routesCreatedCounter.Inc() }

func recordAccountLookup(found bool) {
	result := "hit"
	if !found {
		result = "miss"
	}
	accountLookupCounter.WithLabelValues(result).Inc()
}
