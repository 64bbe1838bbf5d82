// Package config loads runtime configuration from multiple sources (YAML files,
// environment variables, CLI flags) with precedence: CLI flags > Environment
// variables > YAML config > Defaults. WiFi and broker defaults come from the
// compiled-in credentials package, so a deployment can keep secrets out of the
// source tree by supplying them here instead.
package config
