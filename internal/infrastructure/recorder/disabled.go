package recorder

import (
	"context"
	"errors"

	"liveclass/internal/core/ports"
)

// ErrDisabled is returned by the disabled client.
var ErrDisabled = errors.New("recording is disabled")

// Disabled is the recorder client used when recording is turned off in
// configuration. Start fails, Stop is a silent no-op so teardown paths
// stay clean.
type Disabled struct{}

func (Disabled) Start(ctx context.Context, req ports.RecorderStartRequest) (*ports.RecorderTarget, error) {
	return nil, ErrDisabled
}

func (Disabled) Stop(ctx context.Context, req ports.RecorderStopRequest) error { return nil }

func (Disabled) Status(ctx context.Context) error { return ErrDisabled }
