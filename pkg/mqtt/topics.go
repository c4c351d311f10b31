package mqtt

import (
	"fmt"
	"strings"
)

// Topics follow gcslink/vehicle/{vehicle}/{action}[/{resource}].
const (
	// TopicPrefix is the root of every gcslink topic
	TopicPrefix = "gcslink"

	// SegmentVehicle precedes the vehicle id
	SegmentVehicle = "vehicle"

	ActionTelemetry = "telemetry"
	ActionStatus    = "status"
	ActionHeartbeat = "heartbeat"
	ActionEvent     = "event"
	ActionCommand   = "cmd"
	ActionResponse  = "resp"
	ActionHealth    = "health"
)

// TopicBuilder constructs topic strings.
type TopicBuilder struct {
	parts []string
}

// NewTopicBuilder starts a topic with TopicPrefix.
func NewTopicBuilder() *TopicBuilder {
	return &TopicBuilder{parts: []string{TopicPrefix}}
}

// Vehicle adds the vehicle segment pair.
func (tb *TopicBuilder) Vehicle(id string) *TopicBuilder {
	tb.parts = append(tb.parts, SegmentVehicle, id)
	return tb
}

// Action adds an action segment.
func (tb *TopicBuilder) Action(action string) *TopicBuilder {
	tb.parts = append(tb.parts, action)
	return tb
}

// Resource adds a resource segment.
func (tb *TopicBuilder) Resource(resource string) *TopicBuilder {
	tb.parts = append(tb.parts, resource)
	return tb
}

// Build joins the segments.
func (tb *TopicBuilder) Build() string {
	return strings.Join(tb.parts, "/")
}

// VehicleTopic returns gcslink/vehicle/{vehicle}/{action}.
func VehicleTopic(vehicle, action string) string {
	return NewTopicBuilder().Vehicle(vehicle).Action(action).Build()
}

// VehicleEventTopic returns the topic for a named link event.
func VehicleEventTopic(vehicle, event string) string {
	return NewTopicBuilder().Vehicle(vehicle).Action(ActionEvent).Resource(event).Build()
}

// VehicleHealthTopic returns the topic health results are published on.
func VehicleHealthTopic(vehicle string) string {
	return NewTopicBuilder().Vehicle(vehicle).Action(ActionHealth).Resource("status").Build()
}

// ParseTopic returns the segments after the prefix.
func ParseTopic(topic string) ([]string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 || parts[0] != TopicPrefix {
		return nil, fmt.Errorf("invalid topic format: must start with %s", TopicPrefix)
	}
	return parts[1:], nil
}

// ParseVehicleTopic returns the vehicle id and action of a vehicle topic.
func ParseVehicleTopic(topic string) (vehicle, action string, err error) {
	parts, err := ParseTopic(topic)
	if err != nil {
		return "", "", err
	}
	if len(parts) < 3 || parts[0] != SegmentVehicle || parts[1] == "" {
		return "", "", fmt.Errorf("invalid vehicle topic %q", topic)
	}
	return parts[1], parts[2], nil
}

// ValidateTopic checks that a topic is a gcslink vehicle topic.
func ValidateTopic(topic string) bool {
	_, _, err := ParseVehicleTopic(topic)
	return err == nil
}
