package dispatch

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/nerrad567/nodelink-core/internal/xbee"
)

// QueryAT sends an AT command to the local radio and waits for its response.
//
// The command is finalized up front with a fresh frame ID so the reply can
// be matched on that ID alone.
//
// Returns:
//   - *xbee.ATResponse: the accepted response
//   - error: ErrTimeout if no reply, ErrATStatus if the radio rejected it
func (d *Dispatcher) QueryAT(ctx context.Context, cmd string, param []byte, timeout time.Duration) (*xbee.ATResponse, error) {
	at := xbee.NewATCommand(cmd, param)
	frameID := d.NextFrameID()
	if _, err := at.Finalize(frameID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	ok, matches := d.SendAndWait(ctx, at, timeout, FrameIDFilter(xbee.FrameATResponse, frameID))
	if !ok {
		return nil, fmt.Errorf("%w: AT %s", ErrTimeout, cmd)
	}

	resp, isAT := matches[0].(*xbee.ATResponse)
	if !isAT {
		return nil, fmt.Errorf("%w: AT %s: unexpected %T", ErrATStatus, cmd, matches[0])
	}
	if resp.Status != xbee.ATStatusOK {
		return nil, fmt.Errorf("%w: AT %s status 0x%02X", ErrATStatus, cmd, byte(resp.Status))
	}
	return resp, nil
}

// CoordinatorAddress reads the local radio's 64-bit serial number (SH + SL).
func (d *Dispatcher) CoordinatorAddress(ctx context.Context, timeout time.Duration) (uint64, error) {
	hi, err := d.QueryAT(ctx, "SH", nil, timeout)
	if err != nil {
		return 0, err
	}
	lo, err := d.QueryAT(ctx, "SL", nil, timeout)
	if err != nil {
		return 0, err
	}
	if len(hi.Value) < 4 || len(lo.Value) < 4 {
		return 0, fmt.Errorf("%w: short serial number reply", ErrATStatus)
	}
	return uint64(binary.BigEndian.Uint32(hi.Value))<<32 | uint64(binary.BigEndian.Uint32(lo.Value)), nil
}
