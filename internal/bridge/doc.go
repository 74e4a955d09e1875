// Package bridge exposes the device registry on MQTT.
//
// A Bridge is registered as a node.Observer. Every registry event is
// published on nodelink/event/{type}, and the affected device's snapshot
// is republished retained on nodelink/device/{id}/state (cleared when the
// device is removed or re-keyed). Events are queued and published by one
// worker so the dispatcher goroutine that raised them never waits on the
// broker.
//
// Commands arrive on nodelink/command/{action} as JSON:
//
//	{"request_id": "...", "device_id": "0013A20040A1B2C3", "function_id": 1, "args": [42]}
//
// Actions are investigate, invoke, get, list and remove. Each request gets
// one Response on nodelink/response/{request_id}; a UUID is assigned when
// the request carries none.
//
// HealthReporter publishes coordinator health (serial link, dispatcher,
// registry size) retained on nodelink/health and, when Metrics is set,
// forwards link counters to InfluxDB.
package bridge
