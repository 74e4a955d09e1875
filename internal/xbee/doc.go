// Package xbee implements the framed binary API protocol spoken by the
// coordinator radio on the serial line.
//
// It has two halves:
//
//   - Framing: Assembler rebuilds checksummed frames from a raw byte stream,
//     one byte at a time, and Encode produces wire frames for sending.
//   - Classification: Classify turns a complete frame into a typed Message
//     using two-level dispatch (API frame type, then the application code
//     carried inside RX data frames).
//
// # Wire Format
//
//	┌──────┬────────────┬──────────────────────┬──────────┐
//	│ 0x7E │ length (2) │ frame data (length)  │ checksum │
//	└──────┴────────────┴──────────────────────┴──────────┘
//
// The length is big-endian and counts frame data only. The checksum is
// 0xFF minus the low byte of the sum of the frame data.
//
// # Application Layer
//
// RX data and TX request frames carry an application payload of the form
// [app code][sequence][body...]. The sequence number is echoed by the node in
// its response and is used, together with the node's address and the
// response's application code, to correlate request/response exchanges.
//
// # Thread Safety
//
// Classify and Encode are pure. An Assembler is not safe for concurrent use;
// the transport read loop owns exactly one. Outgoing messages may be finalized
// from any goroutine.
package xbee
