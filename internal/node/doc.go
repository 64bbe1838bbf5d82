// Package node is the shelf device side: it joins WiFi with the configured
// credentials, connects to the broker and publishes weight and distance
// samples until its context is cancelled.
package node
