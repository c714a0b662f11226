package models

// Channel is the delivery medium of a rendered message.
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelMessage Channel = "message"
)

// MessageTemplate is a stored subject/body pair referenced by templateId.
type MessageTemplate struct {
	ID       string  `json:"id"                yaml:"id"`
	TenantID string  `json:"tenant_id"         yaml:"tenant_id"`
	Name     string  `json:"name"              yaml:"name"`
	Channel  Channel `json:"channel"           yaml:"channel"`
	Subject  string  `json:"subject,omitempty" yaml:"subject"`
	Body     string  `json:"body"              yaml:"body"`
}
