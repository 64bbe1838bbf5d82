// Package warehouse turns shelf sensor messages into shelf state, persisted
// readings and alerts. It is the consumer side of the MQTT topics published by
// shelf nodes.
package warehouse
