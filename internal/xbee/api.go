package xbee

import "fmt"

// Framing constants.
const (
	// StartDelimiter marks the beginning of every API frame.
	StartDelimiter byte = 0x7E

	// MaxFrameDataLength bounds the declared frame length. Anything larger is
	// treated as corruption rather than a real frame.
	MaxFrameDataLength = 512

	// frameOverhead is delimiter(1) + length(2) + checksum(1).
	frameOverhead = 4
)

// Well-known addresses.
const (
	// BroadcastAddress64 addresses every node on the network.
	BroadcastAddress64 uint64 = 0x000000000000FFFF

	// UnknownAddress64 is reported when the 64-bit source address is not known.
	UnknownAddress64 uint64 = 0xFFFFFFFFFFFFFFFF

	// UnknownAddress16 is used when the 16-bit network address is not known.
	UnknownAddress16 uint16 = 0xFFFE
)

// FrameType is the API identifier carried in the first byte of frame data.
type FrameType byte

// API frame types understood by the coordinator.
const (
	FrameATCommand          FrameType = 0x08
	FrameTxRequest          FrameType = 0x10
	FrameATResponse         FrameType = 0x88
	FrameModemStatus        FrameType = 0x8A
	FrameTxStatus           FrameType = 0x8B
	FrameRxData             FrameType = 0x90
	FrameNodeIdentification FrameType = 0x95
)

// String returns a human-readable frame type name.
func (t FrameType) String() string {
	switch t {
	case FrameATCommand:
		return "at_command"
	case FrameTxRequest:
		return "tx_request"
	case FrameATResponse:
		return "at_response"
	case FrameModemStatus:
		return "modem_status"
	case FrameTxStatus:
		return "tx_status"
	case FrameRxData:
		return "rx_data"
	case FrameNodeIdentification:
		return "node_identification"
	default:
		return fmt.Sprintf("frame_0x%02X", byte(t))
	}
}

// AppCode identifies the application message carried in RF data.
type AppCode byte

// Application codes. Requests flow coordinator to node, responses node to
// coordinator.
const (
	AppDeviceStatus      AppCode = 0x01
	AppStatusRequest     AppCode = 0x02
	AppInfoRequest       AppCode = 0x10
	AppInfoResponse      AppCode = 0x11
	AppCatalogRequest    AppCode = 0x20
	AppCatalogResponse   AppCode = 0x21
	AppParameterRequest  AppCode = 0x30
	AppParameterResponse AppCode = 0x31
	AppFunctionTransmit  AppCode = 0x40
	AppFunctionReceive   AppCode = 0x41
	AppBootloadRequest   AppCode = 0x50
	AppBootloadResponse  AppCode = 0x51
	AppBootloadData      AppCode = 0x52
	AppBootloadAck       AppCode = 0x53
)

// String returns a human-readable application code name.
func (c AppCode) String() string {
	switch c {
	case AppDeviceStatus:
		return "device_status"
	case AppStatusRequest:
		return "status_request"
	case AppInfoRequest:
		return "info_request"
	case AppInfoResponse:
		return "info_response"
	case AppCatalogRequest:
		return "catalog_request"
	case AppCatalogResponse:
		return "catalog_response"
	case AppParameterRequest:
		return "parameter_request"
	case AppParameterResponse:
		return "parameter_response"
	case AppFunctionTransmit:
		return "function_transmit"
	case AppFunctionReceive:
		return "function_receive"
	case AppBootloadRequest:
		return "bootload_request"
	case AppBootloadResponse:
		return "bootload_response"
	case AppBootloadData:
		return "bootload_data"
	case AppBootloadAck:
		return "bootload_ack"
	default:
		return fmt.Sprintf("app_0x%02X", byte(c))
	}
}

// IsBootload reports whether c belongs to the bootloader family.
func (c AppCode) IsBootload() bool {
	return c >= AppBootloadRequest && c <= AppBootloadAck
}

// Direction records which way a message travelled.
type Direction uint8

const (
	// Inbound messages were received from the radio.
	Inbound Direction = iota
	// Outbound messages are being sent to the radio.
	Outbound
)

// String returns "rx" or "tx".
func (d Direction) String() string {
	if d == Outbound {
		return "tx"
	}
	return "rx"
}

// DeviceStatusCode is the status byte of a device status message.
type DeviceStatusCode byte

const (
	StatusOK            DeviceStatusCode = 0x00
	StatusHardwareReset DeviceStatusCode = 0x01
	StatusLowBattery    DeviceStatusCode = 0x02
)

// ModemStatusCode is reported by the local radio in modem status frames.
type ModemStatusCode byte

const (
	ModemHardwareReset   ModemStatusCode = 0x00
	ModemWatchdogReset   ModemStatusCode = 0x01
	ModemJoinedNetwork   ModemStatusCode = 0x02
	ModemDisassociated   ModemStatusCode = 0x03
	ModemCoordinatorUp   ModemStatusCode = 0x06
	ModemNetworkWokeUp   ModemStatusCode = 0x0B
	ModemNetworkSleeping ModemStatusCode = 0x0C
)

// DeliveryStatus is the delivery outcome reported by a TX status frame.
type DeliveryStatus byte

// DeliverySuccess is the only delivery status that means the node acknowledged.
const DeliverySuccess DeliveryStatus = 0x00

// ATStatus is the status byte of an AT response.
type ATStatus byte

// ATStatusOK means the AT command was accepted.
const ATStatusOK ATStatus = 0x00

// FormatAddress64 formats a 64-bit address as 16 upper-case hex digits.
func FormatAddress64(addr uint64) string {
	return fmt.Sprintf("%016X", addr)
}
