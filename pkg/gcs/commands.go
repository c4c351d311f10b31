package gcs

import (
	"context"

	"github.com/dronefleet/gcslink/pkg/protocol"
)

// MoveCommand is the SimpleCommand name carrying a velocity setpoint.
const MoveCommand = "move"

// Arm arms the vehicle's motors.
func (l *Link) Arm(ctx context.Context) error {
	return l.sendToTarget(ctx, protocol.ArmDisarm, protocol.ArmPayload{Arm: true})
}

// Disarm disarms the vehicle's motors.
func (l *Link) Disarm(ctx context.Context) error {
	return l.sendToTarget(ctx, protocol.ArmDisarm, protocol.ArmPayload{Arm: false})
}

// Takeoff climbs to altitude meters above home.
func (l *Link) Takeoff(ctx context.Context, altitude float64) error {
	return l.sendToTarget(ctx, protocol.Takeoff, protocol.TakeoffPayload{Altitude: altitude})
}

// Land lands at the current position.
func (l *Link) Land(ctx context.Context) error {
	return l.sendToTarget(ctx, protocol.Land, protocol.EmptyPayload{})
}

// ReturnToLaunch flies back to the launch point.
func (l *Link) ReturnToLaunch(ctx context.Context) error {
	return l.sendToTarget(ctx, protocol.ReturnToLaunch, protocol.EmptyPayload{})
}

// SetMode switches the flight mode.
func (l *Link) SetMode(ctx context.Context, mode string) error {
	return l.sendToTarget(ctx, protocol.SetMode, protocol.ModePayload{Mode: mode})
}

// Move sends a velocity setpoint in m/s.
func (l *Link) Move(ctx context.Context, vx, vy, vz float64) error {
	return l.SendCommand(ctx, MoveCommand, protocol.VelocityParams{VX: vx, VY: vy, VZ: vz})
}

func (l *Link) sendToTarget(ctx context.Context, kind string, payload interface{}) error {
	return l.SendProtocolCommand(ctx, kind, l.opts.TargetSystem, l.opts.TargetComponent, payload)
}
