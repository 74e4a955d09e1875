package xbee

import (
	"fmt"
	"sync"
)

// Message is the parsed, immutable view of one API frame.
type Message interface {
	// Type returns the API frame type.
	Type() FrameType

	// Direction reports whether the message was received or is being sent.
	Direction() Direction

	// Data returns the frame data (API type byte onward).
	Data() []byte
}

// NodeMessage is a message attributable to a remote node.
type NodeMessage interface {
	Message
	Address64() uint64
	Address16() uint16
}

// DataMessage is a node message carrying an application payload.
type DataMessage interface {
	NodeMessage

	// AppCode returns the application code, or 0 if the payload is empty.
	AppCode() AppCode

	// Seq returns the application sequence number, or 0 if absent.
	Seq() byte
}

// Acknowledgement is a local radio reply correlated by frame ID.
type Acknowledgement interface {
	Message
	AckFrameID() byte
}

// Outgoing is a message the coordinator sends. Its frame data is fixed the
// first time Finalize is called; later calls return the same bytes.
type Outgoing interface {
	Message
	FrameID() byte
	Finalized() bool
	Finalize(frameID byte) ([]byte, error)
}

// =============================================================================
// Inbound messages
// =============================================================================

type inbound struct {
	data []byte
}

// Type implements Message.
func (m *inbound) Type() FrameType { return FrameType(m.data[0]) }

// Direction implements Message.
func (m *inbound) Direction() Direction { return Inbound }

// Data implements Message.
func (m *inbound) Data() []byte { return m.data }

// Generic is the transport-level message for frames whose type is unknown or
// whose layout is too short for the specific type.
type Generic struct {
	inbound
}

// ModemStatus reports a state change of the local radio.
type ModemStatus struct {
	inbound
	Status ModemStatusCode
}

// ATResponse is the local radio's reply to an AT command.
type ATResponse struct {
	inbound
	FrameID byte
	Command string
	Status  ATStatus
	Value   []byte
}

// AckFrameID implements Acknowledgement.
func (m *ATResponse) AckFrameID() byte { return m.FrameID }

// TxStatus reports the delivery outcome of a TX request.
type TxStatus struct {
	inbound
	FrameID   byte
	Dest16    uint16
	Retries   byte
	Delivery  DeliveryStatus
	Discovery byte
}

// AckFrameID implements Acknowledgement.
func (m *TxStatus) AckFrameID() byte { return m.FrameID }

// RxData is a data frame received from a node. It is also the generic type
// for data frames whose application code is unknown or malformed.
type RxData struct {
	inbound
	Source64 uint64
	Source16 uint16
	Options  byte
	RFData   []byte
}

// Address64 implements NodeMessage.
func (m *RxData) Address64() uint64 { return m.Source64 }

// Address16 implements NodeMessage.
func (m *RxData) Address16() uint16 { return m.Source16 }

// AppCode implements DataMessage.
func (m *RxData) AppCode() AppCode {
	if len(m.RFData) == 0 {
		return 0
	}
	return AppCode(m.RFData[0])
}

// Seq implements DataMessage.
func (m *RxData) Seq() byte {
	if len(m.RFData) < appHeaderLen {
		return 0
	}
	return m.RFData[1]
}

// Body returns the application body after the app code and sequence.
func (m *RxData) Body() []byte {
	if len(m.RFData) < appHeaderLen {
		return nil
	}
	return m.RFData[appHeaderLen:]
}

// NodeIdentification is emitted when a node joins or its commissioning
// button is pressed.
type NodeIdentification struct {
	inbound
	Source64   uint64
	Source16   uint16
	Options    byte
	Remote64   uint64
	Remote16   uint16
	Identifier string
}

// Address64 implements NodeMessage; it is the identified node's address.
func (m *NodeIdentification) Address64() uint64 { return m.Remote64 }

// Address16 implements NodeMessage.
func (m *NodeIdentification) Address16() uint16 { return m.Remote16 }

// DeviceStatus is a node's periodic or event-driven status report.
type DeviceStatus struct {
	RxData
	Status DeviceStatusCode
}

// StatusRequest is a liveness probe (normally outbound; classified for completeness).
type StatusRequest struct {
	RxData
}

// InfoRequest asks a node for its serial number and name.
type InfoRequest struct {
	RxData
}

// InfoResponse carries the node's serial number and name.
type InfoResponse struct {
	RxData
	Serial uint64
	Name   string
}

// CatalogRequest asks for the catalog count (index 0) or one entry.
type CatalogRequest struct {
	RxData
	Index byte
}

// CatalogEntry describes one callable function.
type CatalogEntry struct {
	FunctionID byte
	ReturnType ValueType
	ParamCount byte
	Name       string
}

// CatalogResponse answers a CatalogRequest. Entry is nil for index 0.
type CatalogResponse struct {
	RxData
	Index byte
	Count byte
	Entry *CatalogEntry
}

// ParameterRequest asks for one parameter descriptor.
type ParameterRequest struct {
	RxData
	FunctionID byte
	ParamID    byte
}

// EnumValue is one name/value pair of an enumerated parameter.
type EnumValue struct {
	Value int32
	Name  string
}

// ParameterDescriptor describes a parameter's type and bounds. For strings,
// Max is the maximum length.
type ParameterDescriptor struct {
	Type   ValueType
	Signed bool
	Min    int32
	Max    int32
	Name   string
	Enum   []EnumValue
}

// ParameterResponse answers a ParameterRequest.
type ParameterResponse struct {
	RxData
	FunctionID byte
	ParamID    byte
	Descriptor ParameterDescriptor
}

// Argument is one encoded invocation argument.
type Argument struct {
	Type  ValueType
	Value []byte
}

// FunctionTransmit invokes a function on a node.
type FunctionTransmit struct {
	RxData
	FunctionID byte
	Args       []Argument
}

// FunctionReceive carries a function's result.
type FunctionReceive struct {
	RxData
	FunctionID byte
	Status     byte
	ReturnType ValueType
	Value      []byte
}

// Bootload is any message of the bootloader family. The payload is opaque.
type Bootload struct {
	RxData
}

// =============================================================================
// Outbound messages
// =============================================================================

type outbound struct {
	mu        sync.Mutex
	dir       Direction
	frameID   byte
	finalized bool
	data      []byte
	wire      []byte
}

// Direction implements Message.
func (o *outbound) Direction() Direction { return o.dir }

// FrameID returns the frame ID assigned at finalization (0 before).
func (o *outbound) FrameID() byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.frameID
}

// Finalized reports whether Finalize has been called.
func (o *outbound) Finalized() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.finalized
}

func (o *outbound) finalize(frameID byte, build func(byte) []byte) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.finalized {
		return o.wire, nil
	}

	data := build(frameID)
	wire, err := Encode(data)
	if err != nil {
		return nil, err
	}
	o.frameID = frameID
	o.data = data
	o.wire = wire
	o.finalized = true
	return wire, nil
}

func (o *outbound) snapshot(build func(byte) []byte) []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.finalized {
		return o.data
	}
	return build(o.frameID)
}

// ATCommand queries or sets a register on the local radio.
type ATCommand struct {
	outbound
	Command string
	Param   []byte
}

// NewATCommand builds an AT command. cmd must be two ASCII characters.
func NewATCommand(cmd string, param []byte) *ATCommand {
	return &ATCommand{outbound: outbound{dir: Outbound}, Command: cmd, Param: param}
}

// Type implements Message.
func (m *ATCommand) Type() FrameType { return FrameATCommand }

// Data implements Message.
func (m *ATCommand) Data() []byte { return m.snapshot(m.build) }

// Finalize implements Outgoing.
func (m *ATCommand) Finalize(frameID byte) ([]byte, error) { return m.finalize(frameID, m.build) }

func (m *ATCommand) build(frameID byte) []byte {
	cmd := []byte(m.Command + "  ")[:2]
	buf := make([]byte, 0, 4+len(m.Param))
	buf = append(buf, byte(FrameATCommand), frameID, cmd[0], cmd[1])
	return append(buf, m.Param...)
}

// TxRequest sends RF data to a node.
type TxRequest struct {
	outbound
	Dest64  uint64
	Dest16  uint16
	Radius  byte
	Options byte
	RFData  []byte
}

// NewTxRequest builds a TX request for raw RF data.
func NewTxRequest(dest64 uint64, dest16 uint16, rf []byte) *TxRequest {
	return &TxRequest{outbound: outbound{dir: Outbound}, Dest64: dest64, Dest16: dest16, RFData: rf}
}

// Type implements Message.
func (m *TxRequest) Type() FrameType { return FrameTxRequest }

// Data implements Message.
func (m *TxRequest) Data() []byte { return m.snapshot(m.build) }

// Finalize implements Outgoing.
func (m *TxRequest) Finalize(frameID byte) ([]byte, error) { return m.finalize(frameID, m.build) }

// Address64 returns the destination address.
func (m *TxRequest) Address64() uint64 { return m.Dest64 }

// Address16 returns the destination network address.
func (m *TxRequest) Address16() uint16 { return m.Dest16 }

// AppCode returns the application code of the payload.
func (m *TxRequest) AppCode() AppCode {
	if len(m.RFData) == 0 {
		return 0
	}
	return AppCode(m.RFData[0])
}

// Seq returns the application sequence number.
func (m *TxRequest) Seq() byte {
	if len(m.RFData) < appHeaderLen {
		return 0
	}
	return m.RFData[1]
}

func (m *TxRequest) build(frameID byte) []byte {
	buf := make([]byte, 0, txHeaderLen+len(m.RFData))
	buf = append(buf, byte(FrameTxRequest), frameID)
	buf = appendUint64(buf, m.Dest64)
	buf = appendUint16(buf, m.Dest16)
	buf = append(buf, m.Radius, m.Options)
	return append(buf, m.RFData...)
}

// Describe returns a short description of a message for logs.
func Describe(m Message) string {
	if dm, ok := m.(DataMessage); ok && dm.AppCode() != 0 {
		return fmt.Sprintf("%s/%s seq=%d node=%s", m.Type(), dm.AppCode(), dm.Seq(), FormatAddress64(dm.Address64()))
	}
	return m.Type().String()
}
