package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteTelemetryField writes a single numeric telemetry reading.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Example:
//
//	client.WriteTelemetryField("drone-alpha", "battery", 87.0)
//	client.WriteTelemetryField("drone-alpha", "altitude", 120.5)
func (c *Client) WriteTelemetryField(device string, field string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"telemetry",
		map[string]string{
			"device": device,
			"field":  field,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteConnectivity records a device connectivity transition as a point.
// Online is written as 1, offline as 0, so dashboards can plot uptime.
func (c *Client) WriteConnectivity(device string, online bool) {
	if !c.IsConnected() {
		return
	}

	value := 0
	if online {
		value = 1
	}

	point := write.NewPoint(
		"connectivity",
		map[string]string{
			"device": device,
		},
		map[string]interface{}{
			"online": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}
