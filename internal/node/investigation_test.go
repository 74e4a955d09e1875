package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/nodelink-core/internal/xbee"
)

func startRegistry(t *testing.T, reg *Registry) {
	t.Helper()
	require.NoError(t, reg.Start(context.Background()))
	t.Cleanup(reg.Stop)
}

func requestCodes(reqs []sentRequest) []xbee.AppCode {
	codes := make([]xbee.AppCode, 0, len(reqs))
	for _, r := range reqs {
		codes = append(codes, r.tx.AppCode())
	}
	return codes
}

func TestInvestigationAbortsWhenDeviceNeverAnswers(t *testing.T) {
	reg, sender, rec := newTestRegistry(nil)
	reg.Update(statusFrom(testSerial, testAddr16, xbee.StatusOK))

	startRegistry(t, reg)

	require.Eventually(t, func() bool {
		return rec.count(EventInvestigationAborted) == 1
	}, time.Second, 5*time.Millisecond)

	reqs := sender.requests()
	require.Len(t, reqs, DefaultRoundAttempts)
	seqs := make(map[byte]bool)
	for _, r := range reqs {
		assert.Equal(t, xbee.AppInfoRequest, r.tx.AppCode())
		assert.Equal(t, DefaultRoundTimeout, r.timeout)
		assert.Equal(t, testSerial, r.tx.Dest64)
		seqs[r.tx.Seq()] = true
	}
	assert.Len(t, seqs, DefaultRoundAttempts, "fresh sequence number per attempt")

	snap, err := reg.Get(testSerial)
	require.NoError(t, err)
	assert.False(t, snap.Investigating)
	assert.False(t, snap.FullCatalog)
	assert.Equal(t, 0, rec.count(EventInvestigationCompleted))
}

func TestFullInvestigation(t *testing.T) {
	reg, sender, rec := newTestRegistry(newSimNode())
	reg.Update(statusFrom(testSerial, testAddr16, xbee.StatusOK))

	startRegistry(t, reg)

	require.Eventually(t, func() bool {
		return rec.count(EventInvestigationCompleted) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []xbee.AppCode{
		xbee.AppInfoRequest,
		xbee.AppCatalogRequest, // count
		xbee.AppCatalogRequest, // entry 1
		xbee.AppCatalogRequest, // entry 2
		xbee.AppParameterRequest,
		xbee.AppParameterRequest,
	}, requestCodes(sender.requests()))

	snap, err := reg.Get(testSerial)
	require.NoError(t, err)
	assert.Equal(t, "dimmer", snap.Name)
	assert.Equal(t, 2, snap.CatalogCount)
	assert.True(t, snap.FullCatalog)
	assert.True(t, snap.FullParameters)
	assert.False(t, snap.Investigating)
	require.Len(t, snap.Functions, 2)

	fn, ok := snap.Function(1)
	require.True(t, ok)
	assert.Equal(t, "setLevel", fn.Name)
	assert.Equal(t, int32(-100), fn.Params[1].Min)
	require.NotNil(t, fn.Return)

	assert.Equal(t, 0, reg.QueueLength())
	assert.Positive(t, rec.count(EventCatalogUpdated))
}

func TestInvestigationLearnsSerialOfPlaceholder(t *testing.T) {
	reg, sender, rec := newTestRegistry(newSimNode())
	reg.Update(statusFrom(xbee.UnknownAddress64, testAddr16, xbee.StatusOK))

	startRegistry(t, reg)

	require.Eventually(t, func() bool {
		return rec.count(EventInvestigationCompleted) == 1
	}, time.Second, 5*time.Millisecond)

	reqs := sender.requests()
	require.NotEmpty(t, reqs)
	assert.Equal(t, xbee.UnknownAddress64, reqs[0].tx.Dest64, "first INFO goes by network address")
	assert.Equal(t, testAddr16, reqs[0].tx.Dest16)
	assert.Equal(t, testSerial, reqs[len(reqs)-1].tx.Dest64, "later rounds use the learned serial")

	require.Equal(t, 1, reg.Count())
	snap, err := reg.Get(testSerial)
	require.NoError(t, err)
	assert.True(t, snap.FullParameters)
	assert.Equal(t, 1, rec.count(EventDeviceRekeyed))
}

func TestHardwareResetQueuesLightInvestigation(t *testing.T) {
	reg, sender, rec := newTestRegistry(newSimNode())
	require.Equal(t, 1, reg.Load([]Snapshot{completeSnapshot()}))
	require.Equal(t, 0, reg.QueueLength())

	reg.Update(statusFrom(testSerial, testAddr16, xbee.StatusHardwareReset))

	snap, err := reg.Get(testSerial)
	require.NoError(t, err)
	assert.True(t, snap.NeedsLight)
	assert.False(t, snap.FullCatalog)
	assert.False(t, snap.FullParameters)
	require.Equal(t, 1, reg.QueueLength())

	startRegistry(t, reg)

	require.Eventually(t, func() bool {
		return rec.count(EventInvestigationCompleted) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []xbee.AppCode{xbee.AppInfoRequest}, requestCodes(sender.requests()))

	snap, err = reg.Get(testSerial)
	require.NoError(t, err)
	assert.False(t, snap.NeedsLight)
	assert.True(t, snap.FullCatalog)
	assert.True(t, snap.FullParameters)

	for _, ev := range rec.all() {
		if ev.Type == EventInvestigationStarted {
			assert.True(t, ev.Light)
		}
	}
}

func TestInvestigationInterruptedByStop(t *testing.T) {
	reg, _, rec := newTestRegistry(nil)
	reg.Update(statusFrom(testSerial, testAddr16, xbee.StatusOK))

	dev := reg.lookup(testSerial)
	require.NotNil(t, dev)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reg.investigate(ctx, dev)

	assert.False(t, dev.BeingInvestigated())
	require.Equal(t, 1, rec.count(EventInvestigationAborted))
	for _, ev := range rec.all() {
		if ev.Type == EventInvestigationAborted {
			assert.Contains(t, ev.Reason, "interrupted")
		}
	}
}

func TestInvokeFunction(t *testing.T) {
	sim := newSimNode()
	reg, sender, rec := newTestRegistry(sim)
	reg.Load([]Snapshot{completeSnapshot()})

	res, err := reg.InvokeFunction(context.Background(), testSerial, 1, []any{42})
	require.NoError(t, err)
	assert.Equal(t, byte(1), res.FunctionID)
	assert.Equal(t, byte(0), res.Status)
	assert.Equal(t, int64(-10), res.Value)

	reqs := sender.requests()
	require.Len(t, reqs, 1, "single attempt")
	assert.Equal(t, xbee.AppFunctionTransmit, reqs[0].tx.AppCode())
	assert.Equal(t, DefaultInvokeTimeout, reqs[0].timeout)
	assert.Equal(t, 1, rec.count(EventFunctionResult))
}

func TestInvokeFunctionValidation(t *testing.T) {
	reg, sender, _ := newTestRegistry(newSimNode())
	reg.Load([]Snapshot{completeSnapshot()})

	tests := []struct {
		name    string
		id      uint64
		fid     byte
		args    []any
		wantErr error
	}{
		{"unknown device", 99, 1, []any{1}, ErrDeviceNotFound},
		{"unknown function", testSerial, 9, nil, ErrUnknownFunction},
		{"too few arguments", testSerial, 1, nil, ErrArgumentCount},
		{"too many arguments", testSerial, 2, []any{1}, ErrArgumentCount},
		{"out of range", testSerial, 1, []any{500}, ErrOutOfRange},
		{"wrong type", testSerial, 1, []any{true}, xbee.ErrInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.InvokeFunction(context.Background(), tt.id, tt.fid, tt.args)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Empty(t, sender.requests(), "nothing sent for invalid calls")
}

func TestInvokeFunctionNoReply(t *testing.T) {
	reg, _, _ := newTestRegistry(nil)
	reg.Load([]Snapshot{completeSnapshot()})

	_, err := reg.InvokeFunction(context.Background(), testSerial, 2, nil)
	assert.ErrorIs(t, err, ErrNoReply)
}
