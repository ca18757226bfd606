// Package mqtt2prom bridges topic-addressed messages into Prometheus gauges.
//
// Messages arrive from an MQTT broker or from NATS subjects. Each message is
// matched against an ordered list of rewrite rules; a rule whose regular
// expression matches the topic renders a metric name, labels and a value
// from mustache templates over the topic captures (T) and the coerced
// payload (M), and sets the resulting gauge. A rule stops the search unless
// it is marked continue.
//
// # Layout
//
//	rewrite/     value model, payload coercion, templates, rule dispatch
//	metric/      registry, gauge cache, self metrics, scrape server
//	bridge/      startup replay latch and the single dispatch loop
//	input/mqtt/  MQTT transport (eclipse paho)
//	input/nats/  NATS transport (core subscriptions or JetStream replay)
//	natsclient/  NATS connection wrapper
//	config/      layered YAML/JSON loader, schema, env overrides
//	health/      component health and aggregation
//	errors/      classified errors (transient, invalid, fatal)
//	pkg/retry/   exponential backoff for the initial connect
//	pkg/tlsutil/ client TLS from certificate files
//	cmd/mqtt2prom/ the binary
//
// # Example
//
//	rewrites:
//	  - regex: "^sensors/([^/]+)/temp$"
//	    name: temp_celsius
//	    labels: {room: "{{T.1}}"}
//	    value: "{{M}}"
//
// A message on sensors/kitchen/temp with payload 23.5 sets
// temp_celsius{room="kitchen"} to 23.5.
package mqtt2prom
