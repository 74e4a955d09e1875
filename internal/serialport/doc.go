// Package serialport connects the frame assembler to a radio module on a
// serial device.
//
// A Client owns the port, runs a read loop that feeds every received chunk
// through an xbee.Assembler and hands completed frames to a FrameHandler
// (normally dispatch.Dispatcher.ReceiveFrame). On a framing error the input
// buffer is flushed so the assembler re-synchronises on the next start
// delimiter.
//
// Client implements dispatch.Transport. When the device disappears (USB
// unplug, read error) the client reopens it with exponential backoff until
// Close is called.
package serialport
