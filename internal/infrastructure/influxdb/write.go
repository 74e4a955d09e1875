package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurements written by the coordinator.
const (
	MeasurementLiveness      = "device_liveness"
	MeasurementInvestigation = "investigation"
	MeasurementFunctionCall  = "function_call"
	MeasurementLink          = "link_stats"
)

func (c *Client) emit(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, at))
}

// WriteLiveness records a liveness transition. level is the state as a
// number for graphing, higher meaning heard more recently.
func (c *Client) WriteLiveness(deviceID, liveness string, level int) {
	c.emit(MeasurementLiveness,
		map[string]string{"device_id": deviceID, "liveness": liveness},
		map[string]any{"level": level},
		time.Now())
}

// WriteInvestigation records how an investigation ended ("completed" or
// "aborted"). A zero duration is left out of the point.
func (c *Client) WriteInvestigation(deviceID, outcome string, light bool, duration time.Duration) {
	fields := map[string]any{"count": 1}
	if duration > 0 {
		fields["duration_ms"] = duration.Milliseconds()
	}
	c.emit(MeasurementInvestigation,
		map[string]string{"device_id": deviceID, "outcome": outcome, "light": strconv.FormatBool(light)},
		fields,
		time.Now())
}

// WriteFunctionCall records a remote function reply. value is nil for
// functions without a return value.
func (c *Client) WriteFunctionCall(deviceID string, functionID, status uint8, value *float64) {
	fields := map[string]any{"status": int(status)}
	if value != nil {
		fields["value"] = *value
	}
	c.emit(MeasurementFunctionCall,
		map[string]string{"device_id": deviceID, "function_id": strconv.Itoa(int(functionID))},
		fields,
		time.Now())
}

// WriteLinkStats records a counter snapshot for link ("serial",
// "dispatcher"). An empty snapshot writes nothing.
func (c *Client) WriteLinkStats(link string, counters map[string]any) {
	c.emit(MeasurementLink, map[string]string{"link": link}, counters, time.Now())
}
