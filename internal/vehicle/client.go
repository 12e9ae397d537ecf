// Vehicle flight-control client interface and an in-process simulated backend
package vehicle

import (
	"context"
	"errors"

	"uavnetsim/internal/telemetry"
)

var (
	ErrUnknownVehicle = errors.New("vehicle: unknown vehicle")
	ErrNotArmed       = errors.New("vehicle: not armed")
	ErrCancelled      = errors.New("vehicle: task cancelled")
	ErrDisconnected   = errors.New("vehicle: client disconnected")
	ErrBatteryFailure = errors.New("vehicle: battery failure")
)

// State is what the flight controller reports about one vehicle.
type State struct {
	ID       string             `json:"id"`
	FlowID   int                `json:"flow_id"`
	Position telemetry.Position `json:"position"`
	Yaw      float64            `json:"yaw"`
	Battery  float64            `json:"battery"`
	Status   string             `json:"status"`
	Armed    bool               `json:"armed"`
	Task     string             `json:"task,omitempty"`
}

// Client is the remote flight-control API. Calls may block for seconds and
// must not be made from the tick goroutine.
type Client interface {
	Arm(ctx context.Context, id string) error
	Disarm(ctx context.Context, id string) error
	Takeoff(ctx context.Context, id string, alt float64) error
	MoveTo(ctx context.Context, id string, pos telemetry.Position, speed float64) error
	Land(ctx context.Context, id string) error
	Rotate(ctx context.Context, id string, yaw float64) error
	// CancelLastTask asks the controller to abandon the vehicle's in-flight
	// task. It does not wait for the task to stop.
	CancelLastTask(ctx context.Context, id string) error
	State(ctx context.Context, id string) (State, error)
	Connected(ctx context.Context) bool
}
