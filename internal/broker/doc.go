// Package broker subscribes to the shelf topics on the MQTT broker and fans
// messages out to a bounded set of workers. Messages on the same topic are
// always handled by the same worker, so per-topic order is preserved.
package broker
