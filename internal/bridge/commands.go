package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/nodelink-core/internal/node"
)

// Command actions accepted on nodelink/command/{action}.
const (
	ActionInvestigate = "investigate"
	ActionInvoke      = "invoke"
	ActionGet         = "get"
	ActionList        = "list"
	ActionRemove      = "remove"
)

// handleCommand is the MQTT handler for nodelink/command/+. Every request
// gets exactly one response; the returned error is only logged by the
// MQTT client.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	b.commands.Add(1)
	action := path.Base(topic)

	var req Request
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			err = fmt.Errorf("%w: %w", ErrInvalidRequest, err)
			b.respond(uuid.NewString(), action, nil, err)
			return err
		}
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	b.logger.Debug("command received", "action", action, "request_id", req.RequestID, "device", req.DeviceID)

	switch action {
	case ActionInvoke:
		// Invoke waits for the device; keep the paho goroutine free.
		ctx, ok := b.track()
		if !ok {
			b.respond(req.RequestID, action, nil, ErrNotRunning)
			return ErrNotRunning
		}
		go func() {
			defer b.wg.Done()
			result, err := b.invoke(ctx, req)
			b.respond(req.RequestID, action, result, err)
		}()
		return nil

	case ActionInvestigate:
		err := b.investigate(req)
		b.respond(req.RequestID, action, nil, err)
		return err

	case ActionGet:
		result, err := b.get(req)
		b.respond(req.RequestID, action, result, err)
		return err

	case ActionList:
		b.respond(req.RequestID, action, b.list(), nil)
		return nil

	case ActionRemove:
		err := b.remove(req)
		b.respond(req.RequestID, action, nil, err)
		return err

	default:
		err := fmt.Errorf("%w: %q", ErrUnknownAction, action)
		b.respond(req.RequestID, action, nil, err)
		return err
	}
}

func (b *Bridge) investigate(req Request) error {
	id, err := ParseDeviceID(req.DeviceID)
	if err != nil {
		return err
	}
	return b.registry.Investigate(id)
}

func (b *Bridge) get(req Request) (DeviceState, error) {
	id, err := ParseDeviceID(req.DeviceID)
	if err != nil {
		return DeviceState{}, err
	}
	snap, err := b.registry.Get(id)
	if err != nil {
		return DeviceState{}, err
	}
	return NewDeviceState(snap), nil
}

func (b *Bridge) list() []DeviceState {
	snaps := b.registry.List()
	out := make([]DeviceState, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, NewDeviceState(s))
	}
	return out
}

func (b *Bridge) remove(req Request) error {
	id, err := ParseDeviceID(req.DeviceID)
	if err != nil {
		return err
	}
	return b.registry.Remove(id)
}

func (b *Bridge) invoke(ctx context.Context, req Request) (*node.FunctionResult, error) {
	id, err := ParseDeviceID(req.DeviceID)
	if err != nil {
		return nil, err
	}
	if req.FunctionID == nil || *req.FunctionID < 0 || *req.FunctionID > 0xFF {
		return nil, fmt.Errorf("%w: function_id must be 0-255", ErrInvalidRequest)
	}

	result, err := b.registry.InvokeFunction(ctx, id, byte(*req.FunctionID), req.Args)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// respond publishes the single reply for a request.
func (b *Bridge) respond(requestID, action string, result any, err error) {
	resp := Response{
		RequestID: requestID,
		Action:    action,
		Success:   err == nil,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		b.commandErrors.Add(1)
		resp.Error = err.Error()
		if !errors.Is(err, ErrInvalidRequest) && !errors.Is(err, ErrUnknownAction) {
			b.logger.Warn("command failed", "action", action, "request_id", requestID, "error", err)
		}
	} else {
		resp.Result = result
	}
	b.publishJSON(b.topics.Response(requestID), resp, false)
}
