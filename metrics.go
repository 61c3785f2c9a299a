package mqttv3

import (
	"strconv"
	"time"
)

// Metrics is the instrumentation backend. Implementations return the same
// instrument for the same name and labels.
type Metrics interface {
	Counter(name string, labels MetricLabels) Counter
	Gauge(name string, labels MetricLabels) Gauge
	Histogram(name string, labels MetricLabels) Histogram
}

// MetricLabels are the label pairs that identify one series of a metric.
type MetricLabels map[string]string

type Counter interface {
	Inc()
	Add(delta float64)
	Value() float64
}

type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
	Add(delta float64)
	Sub(delta float64)
	Value() float64
}

// Histogram records observations. Durations are recorded in seconds.
type Histogram interface {
	Observe(value float64)
	ObserveDuration(d time.Duration)
	Count() uint64
	Sum() float64
}

// NoOpMetrics discards all measurements.
type NoOpMetrics struct{}

func (*NoOpMetrics) Counter(string, MetricLabels) Counter     { return discard{} }
func (*NoOpMetrics) Gauge(string, MetricLabels) Gauge         { return discard{} }
func (*NoOpMetrics) Histogram(string, MetricLabels) Histogram { return discard{} }

// discard satisfies every instrument interface and records nothing.
type discard struct{}

func (discard) Inc()                          {}
func (discard) Dec()                          {}
func (discard) Set(float64)                   {}
func (discard) Add(float64)                   {}
func (discard) Sub(float64)                   {}
func (discard) Observe(float64)               {}
func (discard) ObserveDuration(time.Duration) {}
func (discard) Value() float64                { return 0 }
func (discard) Sum() float64                  { return 0 }
func (discard) Count() uint64                 { return 0 }

// Metric names reported by the client.
const (
	MetricConnections     = "mqtt_client_connected"
	MetricConnectAttempts = "mqtt_client_connect_attempts_total"
	MetricConnectionsLost = "mqtt_client_connections_lost_total"

	MetricMessagesSent     = "mqtt_client_messages_sent_total"
	MetricMessagesReceived = "mqtt_client_messages_received_total"

	MetricPacketsSent     = "mqtt_client_packets_sent_total"
	MetricPacketsReceived = "mqtt_client_packets_received_total"
	MetricBytesSent       = "mqtt_client_bytes_sent_total"
	MetricBytesReceived   = "mqtt_client_bytes_received_total"

	// MetricInflight counts operations waiting for their final acknowledgment.
	MetricInflight = "mqtt_client_inflight"

	MetricRetransmissions = "mqtt_client_retransmissions_total"

	// MetricUnmatchedAcks counts acknowledgments that matched no pending operation.
	MetricUnmatchedAcks = "mqtt_client_unmatched_acks_total"

	// MetricAckLatency measures first transmission to final acknowledgment.
	MetricAckLatency = "mqtt_client_ack_latency_seconds"
)

const (
	LabelPacketType = "type"
	LabelQoS        = "qos"
)

// clientMetrics names the measurements the connection loop takes.
type clientMetrics struct {
	m Metrics
}

func newClientMetrics(m Metrics) *clientMetrics {
	if m == nil {
		m = &NoOpMetrics{}
	}
	return &clientMetrics{m: m}
}

func (c *clientMetrics) connectAttempt() { c.m.Counter(MetricConnectAttempts, nil).Inc() }
func (c *clientMetrics) connected()      { c.m.Gauge(MetricConnections, nil).Set(1) }

// disconnected clears the connection gauge. Only an unexpected loss is
// counted.
func (c *clientMetrics) disconnected(lost bool) {
	c.m.Gauge(MetricConnections, nil).Set(0)
	if lost {
		c.m.Counter(MetricConnectionsLost, nil).Inc()
	}
}

func (c *clientMetrics) messageSent(qos QoS) {
	c.m.Counter(MetricMessagesSent, byQoS(qos)).Inc()
}

func (c *clientMetrics) messageReceived(qos QoS) {
	c.m.Counter(MetricMessagesReceived, byQoS(qos)).Inc()
}

func (c *clientMetrics) packetSent(kind PacketType, n int) {
	c.m.Counter(MetricPacketsSent, byPacketType(kind)).Inc()
	c.m.Counter(MetricBytesSent, nil).Add(float64(n))
}

func (c *clientMetrics) packetReceived(kind PacketType) {
	c.m.Counter(MetricPacketsReceived, byPacketType(kind)).Inc()
}

func (c *clientMetrics) bytesReceived(n int) {
	c.m.Counter(MetricBytesReceived, nil).Add(float64(n))
}

func byQoS(qos QoS) MetricLabels { return MetricLabels{LabelQoS: qosLabel(qos)} }

func byPacketType(kind PacketType) MetricLabels {
	return MetricLabels{LabelPacketType: kind.String()}
}

func qosLabel(qos QoS) string {
	return strconv.Itoa(int(qos))
}
