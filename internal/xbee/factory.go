package xbee

import "strings"

// Classify turns a frame into the most specific message type its contents
// support. It never fails: an unknown frame type or a frame too short for its
// type yields *Generic, and RX data with an unknown or malformed application
// payload yields *RxData.
func Classify(f Frame) Message {
	data := f.Data()
	if len(data) == 0 {
		return &Generic{inbound{data: []byte{0}}}
	}

	base := inbound{data: data}
	r := &reader{b: data[1:]}

	switch f.Type() {
	case FrameModemStatus:
		m := &ModemStatus{inbound: base, Status: ModemStatusCode(r.u8())}
		if r.err == nil {
			return m
		}

	case FrameATResponse:
		m := &ATResponse{inbound: base}
		m.FrameID = r.u8()
		m.Command = string(r.take(2))
		m.Status = ATStatus(r.u8())
		m.Value = r.rest()
		if r.err == nil {
			return m
		}

	case FrameTxStatus:
		m := &TxStatus{inbound: base}
		m.FrameID = r.u8()
		m.Dest16 = r.u16()
		m.Retries = r.u8()
		m.Delivery = DeliveryStatus(r.u8())
		m.Discovery = r.u8()
		if r.err == nil {
			return m
		}

	case FrameRxData:
		rx := RxData{inbound: base}
		rx.Source64 = r.u64()
		rx.Source16 = r.u16()
		rx.Options = r.u8()
		rx.RFData = r.rest()
		if r.err == nil {
			return classifyApp(rx)
		}

	case FrameNodeIdentification:
		m := &NodeIdentification{inbound: base}
		m.Source64 = r.u64()
		m.Source16 = r.u16()
		m.Options = r.u8()
		m.Remote16 = r.u16()
		m.Remote64 = r.u64()
		ni := r.rest()
		if r.err == nil {
			if i := strings.IndexByte(string(ni), 0); i >= 0 {
				ni = ni[:i]
			}
			m.Identifier = string(ni)
			return m
		}

	case FrameATCommand:
		if len(data) >= 4 {
			m := &ATCommand{Command: string(data[2:4]), Param: data[4:]}
			m.restore(data)
			return m
		}

	case FrameTxRequest:
		if len(data) >= 2 {
			tr := &reader{b: data[2:]}
			m := &TxRequest{}
			m.Dest64 = tr.u64()
			m.Dest16 = tr.u16()
			m.Radius = tr.u8()
			m.Options = tr.u8()
			m.RFData = tr.rest()
			if tr.err == nil {
				m.restore(data)
				return m
			}
		}
	}

	return &Generic{base}
}

// restore marks a classified outbound-type frame as already finalized with
// its observed bytes.
func (o *outbound) restore(data []byte) {
	o.dir = Inbound
	o.frameID = data[1]
	o.data = data
	o.wire, _ = Encode(data)
	o.finalized = true
}

// classifyApp dispatches on the application code. Anything that does not
// parse stays a plain *RxData.
func classifyApp(rx RxData) Message {
	code := rx.AppCode()
	if len(rx.RFData) < appHeaderLen {
		return &rx
	}
	r := &reader{b: rx.Body()}

	switch {
	case code == AppDeviceStatus:
		m := &DeviceStatus{RxData: rx, Status: DeviceStatusCode(r.u8())}
		if r.err == nil {
			return m
		}

	case code == AppStatusRequest:
		return &StatusRequest{RxData: rx}

	case code == AppInfoRequest:
		return &InfoRequest{RxData: rx}

	case code == AppInfoResponse:
		m := &InfoResponse{RxData: rx}
		m.Serial = r.u64()
		m.Name = r.str()
		if r.err == nil {
			return m
		}

	case code == AppCatalogRequest:
		m := &CatalogRequest{RxData: rx, Index: r.u8()}
		if r.err == nil {
			return m
		}

	case code == AppCatalogResponse:
		m := &CatalogResponse{RxData: rx}
		m.Index = r.u8()
		if m.Index == 0 {
			m.Count = r.u8()
		} else {
			e := &CatalogEntry{}
			e.FunctionID = r.u8()
			e.ReturnType = ValueType(r.u8())
			e.ParamCount = r.u8()
			e.Name = r.str()
			m.Entry = e
		}
		if r.err == nil {
			return m
		}

	case code == AppParameterRequest:
		m := &ParameterRequest{RxData: rx, FunctionID: r.u8(), ParamID: r.u8()}
		if r.err == nil {
			return m
		}

	case code == AppParameterResponse:
		m := &ParameterResponse{RxData: rx}
		m.FunctionID = r.u8()
		m.ParamID = r.u8()
		d := &m.Descriptor
		d.Type = ValueType(r.u8())
		d.Signed = r.u8()&0x01 != 0
		d.Min = int32(r.u32()) //nolint:gosec // two's complement on the wire
		d.Max = int32(r.u32()) //nolint:gosec // two's complement on the wire
		d.Name = r.str()
		n := int(r.u8())
		for i := 0; i < n && r.err == nil; i++ {
			v := int32(r.u32()) //nolint:gosec // two's complement on the wire
			d.Enum = append(d.Enum, EnumValue{Value: v, Name: r.str()})
		}
		if r.err == nil {
			return m
		}

	case code == AppFunctionTransmit:
		m := &FunctionTransmit{RxData: rx}
		m.FunctionID = r.u8()
		n := int(r.u8())
		for i := 0; i < n && r.err == nil; i++ {
			t := ValueType(r.u8())
			l := int(r.u8())
			m.Args = append(m.Args, Argument{Type: t, Value: r.take(l)})
		}
		if r.err == nil {
			return m
		}

	case code == AppFunctionReceive:
		m := &FunctionReceive{RxData: rx}
		m.FunctionID = r.u8()
		m.Status = r.u8()
		m.ReturnType = ValueType(r.u8())
		m.Value = r.take(int(r.u8()))
		if r.err == nil {
			return m
		}

	case code.IsBootload():
		return &Bootload{RxData: rx}
	}

	return &rx
}
