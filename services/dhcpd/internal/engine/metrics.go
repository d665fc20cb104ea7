package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	packetsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rangerd_dhcp_packets_received_total",
		Help: "Inbound DHCP packets by message type.",
	}, []string{"message_type"})

	repliesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rangerd_dhcp_replies_sent_total",
		Help: "Outbound DHCP replies by message type.",
	}, []string{"message_type"})

	packetsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rangerd_dhcp_packets_dropped_total",
		Help: "Packets that produced no reply, by reason.",
	}, []string{"reason"})

	storeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rangerd_lease_store_errors_total",
		Help: "Lease store failures surfaced while handling packets.",
	})

	allocationMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rangerd_allocation_misses_total",
		Help: "Allocation attempts that found no address to hand out.",
	})

	declinedAddresses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rangerd_declined_addresses_total",
		Help: "Addresses reported as conflicted by clients.",
	})
)
