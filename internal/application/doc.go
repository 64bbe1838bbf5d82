// Package application provides application initialization and dependency wiring.
// It opens storage, builds the warehouse monitor and its alarm, subscribes the
// monitor to the MQTT broker and serves the dashboard API, the embedded
// dashboard page and Prometheus metrics over HTTP, keeping the main package
// focused on CLI parsing and orchestration.
package application
