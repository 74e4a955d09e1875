package node

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/nodelink-core/internal/dispatch"
	"github.com/nerrad567/nodelink-core/internal/xbee"
)

// errDeviceMerged ends a walk whose device was folded into an existing
// entry by a re-key. The surviving entry is queued separately.
var errDeviceMerged = errors.New("node: device merged into existing entry")

// Investigate queues a device for investigation. It returns
// ErrDeviceNotFound if the identity is not registered. Queuing a device that
// is already queued is a no-op.
func (r *Registry) Investigate(id uint64) error {
	if r.lookup(id) == nil {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, xbee.FormatAddress64(id))
	}
	r.enqueue(id)
	return nil
}

// QueueLength returns the number of devices waiting for investigation.
func (r *Registry) QueueLength() int {
	r.qMu.Lock()
	defer r.qMu.Unlock()
	return len(r.queue)
}

func (r *Registry) enqueue(id uint64) {
	r.qMu.Lock()
	if _, ok := r.queued[id]; ok {
		r.qMu.Unlock()
		return
	}
	r.queued[id] = struct{}{}
	r.queue = append(r.queue, id)
	r.qMu.Unlock()

	select {
	case r.signal <- struct{}{}:
	default:
	}
}

func (r *Registry) dequeue(id uint64) {
	r.qMu.Lock()
	defer r.qMu.Unlock()
	if _, ok := r.queued[id]; !ok {
		return
	}
	delete(r.queued, id)
	r.queue = removeID(r.queue, id)
}

func (r *Registry) pop() (uint64, bool) {
	r.qMu.Lock()
	defer r.qMu.Unlock()
	if len(r.queue) == 0 {
		return 0, false
	}
	id := r.queue[0]
	r.queue = r.queue[1:]
	delete(r.queued, id)
	return id, true
}

func removeID(ids []uint64, id uint64) []uint64 {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// investigationWorker runs one investigation at a time in FIFO order.
func (r *Registry) investigationWorker(ctx context.Context) {
	defer r.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}
		id, ok := r.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-r.signal:
			}
			continue
		}

		dev := r.lookup(id)
		if dev == nil {
			continue
		}
		r.investigate(ctx, dev)
	}
}

// investigate walks the device through INFO → CATALOG_COUNT →
// CATALOG_ENTRY(1..N) → PARAMETER(function×param). A light investigation
// stops after INFO. The in-progress flag is held for the whole walk and
// released on every exit path.
func (r *Registry) investigate(ctx context.Context, dev *Device) {
	if !dev.beginInvestigation() {
		return
	}
	defer dev.endInvestigation()

	light := dev.NeedsLightInvestigation()
	started := dev.ID()
	r.logger.Info("investigation started", "device", xbee.FormatAddress64(started), "light", light)
	r.emit(Event{Type: EventInvestigationStarted, DeviceID: started, Light: light, Time: r.now()})

	err := r.walk(ctx, dev, light)

	id := dev.ID()
	switch {
	case errors.Is(err, errDeviceMerged):
		r.logger.Debug("investigation ended by merge", "device", xbee.FormatAddress64(id))
	case err != nil:
		r.logger.Warn("investigation aborted", "device", xbee.FormatAddress64(id), "error", err)
		r.emit(Event{Type: EventInvestigationAborted, DeviceID: id, Light: light, Reason: err.Error(), Time: r.now()})
	default:
		r.logger.Info("investigation completed", "device", xbee.FormatAddress64(id),
			"full_catalog", dev.HaveFullCatalog(), "full_parameters", dev.HaveFullParameters())
		r.emit(Event{Type: EventInvestigationCompleted, DeviceID: id, Name: dev.Name(), Light: light, Time: r.now()})
	}
}

func (r *Registry) walk(ctx context.Context, dev *Device, light bool) error {
	// INFO
	if err := r.round(ctx, dev, xbee.AppInfoResponse, func(d64 uint64, d16 uint16, seq byte) *xbee.TxRequest {
		return xbee.NewInfoRequest(d64, d16, seq)
	}); err != nil {
		return err
	}
	if r.lookup(dev.ID()) != dev {
		return errDeviceMerged
	}
	if light {
		dev.finishLightRound()
		return nil
	}

	if !dev.HaveFullCatalog() {
		// CATALOG_COUNT
		if err := r.round(ctx, dev, xbee.AppCatalogResponse, func(d64 uint64, d16 uint16, seq byte) *xbee.TxRequest {
			return xbee.NewCatalogRequest(d64, d16, seq, 0)
		}); err != nil {
			return err
		}

		// CATALOG_ENTRY(1..N)
		for _, index := range dev.missingPositions() {
			if err := r.round(ctx, dev, xbee.AppCatalogResponse, func(d64 uint64, d16 uint16, seq byte) *xbee.TxRequest {
				return xbee.NewCatalogRequest(d64, d16, seq, index)
			}); err != nil {
				return fmt.Errorf("catalog entry %d: %w", index, err)
			}
		}
	}

	// PARAMETER(function×param)
	for _, ref := range dev.missingParameters() {
		if err := r.round(ctx, dev, xbee.AppParameterResponse, func(d64 uint64, d16 uint16, seq byte) *xbee.TxRequest {
			return xbee.NewParameterRequest(d64, d16, seq, ref.function, ref.param)
		}); err != nil {
			return fmt.Errorf("function %d parameter %d: %w", ref.function, ref.param, err)
		}
	}

	return nil
}

// round sends a request and waits for the matching reply, retrying up to
// RoundAttempts times with a fresh sequence number per attempt.
func (r *Registry) round(ctx context.Context, dev *Device, reply xbee.AppCode, build func(uint64, uint16, byte) *xbee.TxRequest) error {
	for attempt := 1; attempt <= r.cfg.RoundAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("interrupted: %w", err)
		}

		dest64, dest16 := dev.destination()
		seq := r.sender.NextSequence()
		ok, _ := r.sender.SendAndWait(ctx, build(dest64, dest16, seq), r.cfg.RoundTimeout, replyFilter(dest64, dest16, reply, seq))
		if ok {
			return nil
		}
		r.logger.Debug("no reply", "device", xbee.FormatAddress64(dev.ID()), "expect", reply.String(), "attempt", attempt)
	}
	return fmt.Errorf("%w: no %s after %d attempts", ErrRoundFailed, reply, r.cfg.RoundAttempts)
}

// replyFilter matches by 64-bit address, or by network address while the
// serial number is unknown.
func replyFilter(dest64 uint64, dest16 uint16, code xbee.AppCode, seq byte) dispatch.Filter {
	if dest64 == xbee.UnknownAddress64 {
		return dispatch.Filter{AppCode: &code, Seq: &seq}.WithAddress16(dest16)
	}
	return dispatch.ReplyFilter(dest64, code, seq)
}

// =============================================================================
// Function invocation
// =============================================================================

// InvokeFunction calls a function on a device and waits for its result.
//
// Arguments are validated against the known parameter descriptors (type,
// bounds and enum tables) before anything is sent. The call is attempted
// once; there is no retry.
//
// Parameters:
//   - ctx: Cancels the wait
//   - id: Device identity
//   - functionID: Catalog function ID
//   - args: One value per declared parameter, in parameter ID order
//
// Returns:
//   - FunctionResult: decoded status and return value
//   - error: ErrDeviceNotFound, ErrUnknownFunction, ErrUnknownParameter,
//     ErrArgumentCount, ErrOutOfRange, or ErrNoReply
func (r *Registry) InvokeFunction(ctx context.Context, id uint64, functionID byte, args []any) (FunctionResult, error) {
	dev := r.lookup(id)
	if dev == nil {
		return FunctionResult{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, xbee.FormatAddress64(id))
	}

	fn, ok := dev.Function(functionID)
	if !ok {
		return FunctionResult{}, fmt.Errorf("%w: %d", ErrUnknownFunction, functionID)
	}
	if len(args) != int(fn.ParamCount) {
		return FunctionResult{}, fmt.Errorf("%w: %s takes %d, got %d", ErrArgumentCount, fn.Name, fn.ParamCount, len(args))
	}

	encoded := make([]xbee.Argument, 0, len(args))
	for i, v := range args {
		p, known := fn.Params[byte(i+1)] //nolint:gosec // bounded by ParamCount
		if !known {
			return FunctionResult{}, fmt.Errorf("%w: %d of %s not yet discovered", ErrUnknownParameter, i+1, fn.Name)
		}
		arg, err := p.Encode(v)
		if err != nil {
			return FunctionResult{}, err
		}
		encoded = append(encoded, arg)
	}

	dest64, dest16 := dev.destination()
	seq := r.sender.NextSequence()
	req, err := xbee.NewFunctionTransmit(dest64, dest16, seq, functionID, encoded)
	if err != nil {
		return FunctionResult{}, err
	}

	ok, matches := r.sender.SendAndWait(ctx, req, r.cfg.InvokeTimeout, replyFilter(dest64, dest16, xbee.AppFunctionReceive, seq))
	if !ok {
		return FunctionResult{}, fmt.Errorf("%w: %s on %s", ErrNoReply, fn.Name, xbee.FormatAddress64(id))
	}

	fr, isResult := matches[0].(*xbee.FunctionReceive)
	if !isResult {
		return FunctionResult{}, fmt.Errorf("%w: unexpected %T", ErrNoReply, matches[0])
	}

	signed := fn.Return != nil && fn.Return.Signed
	value, err := xbee.DecodeValue(fr.ReturnType, signed, fr.Value)
	if err != nil {
		value = fr.Value
	}
	return FunctionResult{FunctionID: fr.FunctionID, Status: fr.Status, ReturnType: fr.ReturnType, Value: value}, nil
}
