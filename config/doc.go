// Package config loads the bridge configuration.
//
// Configuration files are YAML (.yaml, .yml) or JSON (.json). A Loader starts
// from Defaults, deep-merges each file layer in order, applies environment
// overrides and validates the result:
//
//	loader := config.NewLoader()
//	loader.AddLayer("/etc/mqtt2prom/config.yaml")
//	cfg, err := loader.Load()
//	if err != nil {
//		return err
//	}
//	rules, err := cfg.Rules()
//
// Each layer is checked against an embedded JSON schema before it is merged,
// so unknown keys and wrongly typed values are reported with their path.
// Duration fields accept Go duration strings ("30s") or a number of seconds.
//
// Environment overrides (prefix MQTT2PROM):
//
//	MQTT2PROM_TRANSPORT        transport
//	MQTT2PROM_MQTT_URL         mqtt.url
//	MQTT2PROM_MQTT_USERNAME    mqtt.username
//	MQTT2PROM_MQTT_PASSWORD    mqtt.password
//	MQTT2PROM_MQTT_CLIENT_ID   mqtt.client_id
//	MQTT2PROM_NATS_URL         nats.url
//	MQTT2PROM_NATS_TOKEN       nats.token
//	MQTT2PROM_PROMETHEUS_PORT  prometheus.port
//	MQTT2PROM_PROMETHEUS_PATH  prometheus.path
//
// Rewrite rules keep their file order. String name, label and value fields
// are compiled as templates when the configuration is validated, so a
// malformed regex or template fails the load instead of the first message.
package config
