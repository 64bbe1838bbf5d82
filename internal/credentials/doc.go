// Package credentials holds the compiled-in WiFi and MQTT broker settings a
// shelf node is built with. Edit the constants before building a device image,
// or override them at runtime through the config package.
package credentials
