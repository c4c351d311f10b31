package gcs

import (
	"time"

	"github.com/dronefleet/gcslink/pkg/protocol"
	"github.com/dronefleet/gcslink/pkg/transport"
)

// DefaultConnectTimeout bounds a Connect call when Options leaves it unset.
const DefaultConnectTimeout = 10 * time.Second

// Options configures a Link. The zero value is valid.
type Options struct {
	// ConnectTimeout bounds the wait for the transport to open (default 10s)
	ConnectTimeout time.Duration
	// Dialer opens connections (default transport.NewDialer)
	Dialer transport.Dialer
	// MessageTable resolves protocol message kinds (default protocol.DefaultMessageTable)
	MessageTable protocol.MessageTable
	// AllowUnknownMessages sends unknown kinds as msgid 0 instead of failing
	AllowUnknownMessages bool
	// TargetSystem addressed by the convenience commands (default 1)
	TargetSystem int
	// TargetComponent addressed by the convenience commands (default 1)
	TargetComponent int
	// Now stamps outbound frames and events (default time.Now)
	Now func() time.Time
}

func (o *Options) withDefaults() Options {
	var out Options
	if o != nil {
		out = *o
	}
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = DefaultConnectTimeout
	}
	if out.MessageTable == nil {
		out.MessageTable = protocol.DefaultMessageTable()
	}
	if out.TargetSystem == 0 {
		out.TargetSystem = 1
	}
	if out.TargetComponent == 0 {
		out.TargetComponent = 1
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return out
}
