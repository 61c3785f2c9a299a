// Package mqttv3 provides an MQTT 3.1.1 client protocol engine.
//
// This package implements the MQTT Version 3.1.1 OASIS Standard:
// https://docs.oasis-open.org/mqtt/mqtt/v3.1.1/mqtt-v3.1.1.html
//
// # Features
//
//   - All 14 MQTT 3.1.1 control packet types
//   - A resumable streaming decoder that tolerates any fragmentation
//   - QoS 0, 1, 2 message flows with retransmission state machines
//   - Topic name and filter validation, wildcard matching (+, #)
//   - Transport: TCP, TLS, WebSocket, WSS, QUIC, Unix sockets, proxies
//   - Pluggable logging, metrics (in-memory, Prometheus) and tracing
//
// # Packet Types
//
// The package provides structs for all MQTT 3.1.1 control packets:
//
//   - ConnectPacket, ConnackPacket: Connection establishment
//   - PublishPacket, PubackPacket, PubrecPacket, PubrelPacket, PubcompPacket: Message delivery
//   - SubscribePacket, SubackPacket: Topic subscription
//   - UnsubscribePacket, UnsubackPacket: Topic unsubscription
//   - PingreqPacket, PingrespPacket: Keep-alive
//   - DisconnectPacket: Connection termination
//
// Use ReadPacket and WritePacket to read/write packets from/to blocking
// streams, or a Decoder to turn arbitrary byte chunks into packets:
//
//	dec := mqttv3.NewDecoder(0)
//	packets, err := dec.Decode(chunk)
//
// Every decoding error caused by bad input matches ErrMalformedPacket.
//
// # Client
//
//	client, err := mqttv3.Dial(
//	    mqttv3.WithServers("tcp://localhost:1883"),
//	    mqttv3.WithClientID("my-client"),
//	    mqttv3.WithKeepAlive(60),
//	)
//	defer client.Close()
//
//	err = client.Subscribe(ctx, "sensors/+/temp", mqttv3.QoS1,
//	    func(c *mqttv3.Client, msg *mqttv3.Message) {
//	        fmt.Printf("%s: %s\n", msg.Topic, msg.Payload)
//	    })
//
//	err = client.Publish(ctx, &mqttv3.Message{
//	    Topic:   "sensors/1/temp",
//	    Payload: []byte("21.5"),
//	    QoS:     mqttv3.QoS2,
//	})
//
// Publish, Subscribe and Unsubscribe wait for the acknowledgment. Their
// Async variants return a Token instead. Unacknowledged packets are
// retransmitted according to the RetryPolicy; when the connection is lost
// every pending token completes with a *ConnectionLostError and nothing is
// replayed on the next connection.
//
// # Events
//
// Lifecycle events are delivered to the OnEvent handler as errors, checked
// with errors.Is and errors.As:
//
//	mqttv3.OnEvent(func(c *mqttv3.Client, ev error) {
//	    var lost *mqttv3.ConnectionLostError
//	    if errors.As(ev, &lost) {
//	        log.Printf("lost: %v", lost.Cause)
//	    }
//	})
package mqttv3
