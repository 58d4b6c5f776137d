package authcore

import (
	"io"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/flows"
)

// Audit types. Sinks receive events from a buffered dispatcher goroutine, so
// Emit never runs on the request path.
type (
	AuditEvent     = audit.Event
	AuditSink      = audit.Sink
	NoOpSink       = audit.NoOpSink
	ChannelSink    = audit.ChannelSink
	JSONWriterSink = audit.JSONWriterSink
	SlogSink       = audit.SlogSink
	MultiSink      = audit.MultiSink
)

// Audit actions.
const (
	AuditLogin                = flows.ActionLogin
	AuditLogout               = flows.ActionLogout
	AuditRegister             = flows.ActionRegister
	AuditVerifyEmail          = flows.ActionVerifyEmail
	AuditPasswordReset        = flows.ActionPasswordReset
	AuditPasswordResetRequest = flows.ActionPasswordResetSent
	AuditRefresh              = "refresh"
)

// NewChannelSink returns a sink that forwards events to a buffered channel.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink that writes one JSON object per line to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}
