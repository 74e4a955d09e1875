package xbee

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddr64 uint64 = 0x00112233AABBCCDD

func TestClassifyLocalFrames(t *testing.T) {
	t.Run("modem status", func(t *testing.T) {
		m, ok := Classify(NewFrame([]byte{0x8A, 0x06})).(*ModemStatus)
		require.True(t, ok)
		assert.Equal(t, ModemCoordinatorUp, m.Status)
		assert.Equal(t, Inbound, m.Direction())
	})

	t.Run("AT response", func(t *testing.T) {
		data := []byte{0x88, 0x05, 'S', 'H', 0x00, 0x00, 0x13, 0xA2, 0x00}
		m, ok := Classify(NewFrame(data)).(*ATResponse)
		require.True(t, ok)
		assert.Equal(t, byte(5), m.AckFrameID())
		assert.Equal(t, "SH", m.Command)
		assert.Equal(t, ATStatusOK, m.Status)
		assert.Equal(t, []byte{0x00, 0x13, 0xA2, 0x00}, m.Value)
	})

	t.Run("TX status", func(t *testing.T) {
		data := []byte{0x8B, 0x07, 0x12, 0x34, 0x02, 0x00, 0x01}
		m, ok := Classify(NewFrame(data)).(*TxStatus)
		require.True(t, ok)
		assert.Equal(t, byte(7), m.AckFrameID())
		assert.Equal(t, uint16(0x1234), m.Dest16)
		assert.Equal(t, byte(2), m.Retries)
		assert.Equal(t, DeliverySuccess, m.Delivery)
	})

	t.Run("node identification", func(t *testing.T) {
		data := []byte{0x95}
		data = appendUint64(data, testAddr64)
		data = appendUint16(data, 0x4321)
		data = append(data, 0x02)
		data = appendUint16(data, 0x4321)
		data = appendUint64(data, testAddr64)
		data = append(data, 'l', 'a', 'm', 'p', 0x00, 0xFF, 0xFE)

		m, ok := Classify(NewFrame(data)).(*NodeIdentification)
		require.True(t, ok)
		assert.Equal(t, testAddr64, m.Address64())
		assert.Equal(t, uint16(0x4321), m.Address16())
		assert.Equal(t, "lamp", m.Identifier)
	})
}

func TestClassifyApplicationMessages(t *testing.T) {
	entry := CatalogEntry{FunctionID: 3, ReturnType: TypeInt16, ParamCount: 2, Name: "setLevel"}
	desc := ParameterDescriptor{
		Type:   TypeEnum,
		Signed: true,
		Min:    -5,
		Max:    10,
		Name:   "mode",
		Enum:   []EnumValue{{Value: 0, Name: "off"}, {Value: -1, Name: "auto"}},
	}

	tests := []struct {
		name  string
		code  AppCode
		body  []byte
		check func(t *testing.T, m Message)
	}{
		{
			name: "device status",
			code: AppDeviceStatus,
			body: DeviceStatusBody(StatusHardwareReset),
			check: func(t *testing.T, m Message) {
				ds := m.(*DeviceStatus)
				assert.Equal(t, StatusHardwareReset, ds.Status)
			},
		},
		{
			name: "info response",
			code: AppInfoResponse,
			body: InfoResponseBody(testAddr64, "kitchen"),
			check: func(t *testing.T, m Message) {
				ir := m.(*InfoResponse)
				assert.Equal(t, testAddr64, ir.Serial)
				assert.Equal(t, "kitchen", ir.Name)
			},
		},
		{
			name: "catalog count",
			code: AppCatalogResponse,
			body: CatalogCountBody(4),
			check: func(t *testing.T, m Message) {
				cr := m.(*CatalogResponse)
				assert.Equal(t, byte(0), cr.Index)
				assert.Equal(t, byte(4), cr.Count)
				assert.Nil(t, cr.Entry)
			},
		},
		{
			name: "catalog entry",
			code: AppCatalogResponse,
			body: CatalogEntryBody(2, entry),
			check: func(t *testing.T, m Message) {
				cr := m.(*CatalogResponse)
				assert.Equal(t, byte(2), cr.Index)
				require.NotNil(t, cr.Entry)
				assert.Equal(t, entry, *cr.Entry)
			},
		},
		{
			name: "parameter response",
			code: AppParameterResponse,
			body: ParameterResponseBody(3, 1, desc),
			check: func(t *testing.T, m Message) {
				pr := m.(*ParameterResponse)
				assert.Equal(t, byte(3), pr.FunctionID)
				assert.Equal(t, byte(1), pr.ParamID)
				assert.Equal(t, desc, pr.Descriptor)
			},
		},
		{
			name: "function receive",
			code: AppFunctionReceive,
			body: FunctionReceiveBody(3, 0, TypeInt16, []byte{0x01, 0x02}),
			check: func(t *testing.T, m Message) {
				fr := m.(*FunctionReceive)
				assert.Equal(t, byte(3), fr.FunctionID)
				assert.Equal(t, TypeInt16, fr.ReturnType)
				assert.Equal(t, []byte{0x01, 0x02}, fr.Value)
			},
		},
		{
			name: "bootload",
			code: AppBootloadAck,
			body: []byte{0xAA},
			check: func(t *testing.T, m Message) {
				_, ok := m.(*Bootload)
				assert.True(t, ok)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := BuildRxData(testAddr64, 0x1234, tt.code, 9, tt.body)
			m := Classify(NewFrame(data))

			dm, ok := m.(DataMessage)
			require.True(t, ok, "got %T", m)
			assert.Equal(t, tt.code, dm.AppCode())
			assert.Equal(t, byte(9), dm.Seq())
			assert.Equal(t, testAddr64, dm.Address64())
			assert.Equal(t, uint16(0x1234), dm.Address16())
			tt.check(t, m)
		})
	}
}

func TestClassifyIsTotal(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want any
	}{
		{"unknown frame type", []byte{0x42, 0x01, 0x02}, &Generic{}},
		{"short modem status", []byte{0x8A}, &Generic{}},
		{"short AT response", []byte{0x88, 0x01, 'S'}, &Generic{}},
		{"short RX header", []byte{0x90, 0x00, 0x13}, &Generic{}},
		{"short TX request", []byte{0x10}, &Generic{}},
		{"RX with empty payload", BuildRxData(testAddr64, 0, 0, 0, nil)[:12], &RxData{}},
		{"unknown app code", BuildRxData(testAddr64, 0, 0x77, 1, []byte{1, 2}), &RxData{}},
		{"truncated info response", BuildRxData(testAddr64, 0, AppInfoResponse, 1, []byte{0x00, 0x11}), &RxData{}},
		{"truncated catalog name", BuildRxData(testAddr64, 0, AppCatalogResponse, 1, []byte{1, 1, 0, 0, 9, 'a'}), &RxData{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Classify(NewFrame(tt.data))
			require.NotNil(t, m)
			assert.IsType(t, tt.want, m)
			assert.Equal(t, tt.data, m.Data())
		})
	}
}

func TestClassifyOutboundTypes(t *testing.T) {
	req := NewInfoRequest(testAddr64, 0xFFFE, 4)
	wire, err := req.Finalize(0x21)
	require.NoError(t, err)

	var got Message
	NewAssembler().Feed(wire, func(f Frame) { got = Classify(f) }, nil)

	tx, ok := got.(*TxRequest)
	require.True(t, ok, "got %T", got)
	assert.Equal(t, byte(0x21), tx.FrameID())
	assert.Equal(t, testAddr64, tx.Address64())
	assert.Equal(t, AppInfoRequest, tx.AppCode())
	assert.Equal(t, byte(4), tx.Seq())
	assert.Equal(t, Inbound, tx.Direction())
}

func TestFinalizeIsIdempotent(t *testing.T) {
	cmd := NewATCommand("SL", nil)
	assert.False(t, cmd.Finalized())

	first, err := cmd.Finalize(1)
	require.NoError(t, err)
	second, err := cmd.Finalize(2)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, byte(1), cmd.FrameID())
	assert.True(t, cmd.Finalized())
	assert.Equal(t, []byte{0x08, 0x01, 'S', 'L'}, cmd.Data())
}

func TestFunctionTransmitEncoding(t *testing.T) {
	arg, err := EncodeValue(TypeInt16, 300)
	require.NoError(t, err)

	req, err := NewFunctionTransmit(testAddr64, 0x1234, 7, 2, []Argument{{Type: TypeInt16, Value: arg}})
	require.NoError(t, err)

	assert.Equal(t, []byte{byte(AppFunctionTransmit), 7, 2, 1, byte(TypeInt16), 2, 0x01, 0x2C}, req.RFData)
	assert.Equal(t, Outbound, req.Direction())
}
