package session

// Command is an outbound action for the call-control client to execute
// against the platform. The core only produces these; it never performs them.

type Command struct {
	Kind CommandKind `json:"kind"`

	CallID      string `json:"call_id"`
	ResourceURL string `json:"resource_url,omitempty"`

	// Target is set for CommandRedirect.
	Target string `json:"target,omitempty"`

	// MediaResource is set for CommandPlayMedia.
	MediaResource string `json:"media_resource,omitempty"`
}

type CommandKind string

const (
	CommandAnswer    CommandKind = "answer"
	CommandRedirect  CommandKind = "redirect"
	CommandPlayMedia CommandKind = "play_media"
	CommandTerminate CommandKind = "terminate"
)
