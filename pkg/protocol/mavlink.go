package protocol

import "sort"

// MAVLink message kinds understood by ground-control endpoints.
const (
	CommandLong    = "COMMAND_LONG"
	SetMode        = "SET_MODE"
	ArmDisarm      = "ARM_DISARM"
	Takeoff        = "TAKEOFF"
	Land           = "LAND"
	ReturnToLaunch = "RETURN_TO_LAUNCH"
)

// MessageTable resolves message kind names to numeric MAVLink identifiers.
type MessageTable map[string]uint32

// DefaultMessageTable returns a fresh copy of the standard table.
func DefaultMessageTable() MessageTable {
	return MessageTable{
		CommandLong:    76,
		SetMode:        11,
		ArmDisarm:      400,
		Takeoff:        22,
		Land:           21,
		ReturnToLaunch: 20,
	}
}

// Lookup returns the identifier for name.
func (t MessageTable) Lookup(name string) (uint32, bool) {
	id, ok := t[name]
	return id, ok
}

// With returns a copy of t extended (or overridden) by extra.
func (t MessageTable) With(extra map[string]uint32) MessageTable {
	out := make(MessageTable, len(t)+len(extra))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// Names returns the known kinds in sorted order.
func (t MessageTable) Names() []string {
	names := make([]string, 0, len(t))
	for k := range t {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
