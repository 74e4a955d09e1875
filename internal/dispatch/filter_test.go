package dispatch

import (
	"testing"

	"github.com/nerrad567/nodelink-core/internal/xbee"
)

func TestFilterMatches(t *testing.T) {
	status := rx(xbee.AppDeviceStatus, 4, xbee.DeviceStatusBody(xbee.StatusOK))
	txStatus := xbee.Classify(xbee.NewFrame([]byte{0x8B, 0x09, 0x12, 0x34, 0x00, 0x00, 0x00}))
	modem := xbee.Classify(xbee.NewFrame([]byte{0x8A, 0x02}))

	tests := []struct {
		name   string
		filter Filter
		msg    xbee.Message
		want   bool
	}{
		{"empty filter matches anything", Filter{}, modem, true},
		{"reply filter match", ReplyFilter(nodeAddr, xbee.AppDeviceStatus, 4), status, true},
		{"wrong sequence", ReplyFilter(nodeAddr, xbee.AppDeviceStatus, 5), status, false},
		{"wrong app code", ReplyFilter(nodeAddr, xbee.AppInfoResponse, 4), status, false},
		{"wrong address", ReplyFilter(0x1, xbee.AppDeviceStatus, 4), status, false},
		{"address16 present", Filter{}.WithAddress16(0x1234), status, true},
		{"address16 mismatch", Filter{}.WithAddress16(0x9999), status, false},
		{"address on local frame", Filter{Address64: ptr(nodeAddr)}, modem, false},
		{"frame ID match", FrameIDFilter(xbee.FrameTxStatus, 9), txStatus, true},
		{"frame ID mismatch", FrameIDFilter(xbee.FrameTxStatus, 8), txStatus, false},
		{"frame ID on data frame", Filter{FrameID: ptr(byte(4))}, status, false},
		{"frame type only", Filter{FrameType: ptr(xbee.FrameRxData)}, status, true},
		{"seq on local frame", Filter{Seq: ptr(byte(0))}, modem, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(tt.msg); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPendingExchangeBuffersAllMatches(t *testing.T) {
	ex := newPendingExchange(Filter{Address64: ptr(nodeAddr)})

	ex.offer(rx(xbee.AppDeviceStatus, 1, xbee.DeviceStatusBody(xbee.StatusOK)))
	ex.offer(rx(xbee.AppDeviceStatus, 2, xbee.DeviceStatusBody(xbee.StatusLowBattery)))

	select {
	case <-ex.wake:
	default:
		t.Fatal("wake channel not closed after first match")
	}
	if got := len(ex.collected()); got != 2 {
		t.Errorf("collected %d matches, want 2", got)
	}
}
