package archive

// Role classifies the author of a message turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
	RoleUnknown   Role = "unknown"
)

// normalizeRole folds unrecognized author roles into RoleUnknown.
func normalizeRole(s string) Role {
	switch Role(s) {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return Role(s)
	default:
		return RoleUnknown
	}
}

// Conversation is one normalized conversation record with its linearized
// message sequence.
type Conversation struct {
	ID               string
	Title            string
	CreatedAt        int64 // seconds since epoch, 0 when absent
	UpdatedAt        int64
	DefaultModelSlug string
	GizmoID          string
	RawHash          string // hex sha256 of the canonical source record
	Meta             map[string]any
	Messages         []Message
}

// Message is one turn along the chosen linearization path.
type Message struct {
	ID          string
	Role        Role
	ContentType string
	Text        string
	CreatedAt   int64
	TurnIndex   int
	ParentID    string
	TextHash    string // hex sha256 of Text
}

// Result summarizes one parse run over an archive.
type Result struct {
	Conversations int
	FailedRecords int
}
