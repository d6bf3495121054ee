package store

// Conversation is one persisted conversation row.
type Conversation struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	CreatedAt        int64  `json:"created_at"`
	UpdatedAt        int64  `json:"updated_at"`
	MessageCount     int    `json:"message_count"`
	DefaultModelSlug string `json:"default_model_slug,omitempty"`
	GizmoID          string `json:"gizmo_id,omitempty"`
	RawHash          string `json:"raw_hash"`
	Meta             []byte `json:"-"`
	IngestedAt       int64  `json:"ingested_at"`
}

// Message is one persisted turn.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Role           string `json:"role"`
	ContentType    string `json:"content_type"`
	ContentText    string `json:"content_text"`
	CreatedAt      int64  `json:"created_at"`
	TurnIndex      int    `json:"turn_index"`
	ParentID       string `json:"parent_id,omitempty"`
	TextHash       string `json:"text_hash"`
}

// Chunk is one overlapping window of conversation text.
type Chunk struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	StartTurn      int    `json:"start_turn"`
	EndTurn        int    `json:"end_turn"`
	Text           string `json:"text"`
	TextHash       string `json:"text_hash"`
	TargetSize     int    `json:"target_size"`
	Overlap        int    `json:"overlap"`
}

// Project groups conversations sharing a gizmo id.
type Project struct {
	GizmoID     string `json:"gizmo_id"`
	GizmoType   string `json:"gizmo_type"`
	DisplayName string `json:"display_name"`
}

// ProjectWithCount is a project plus its conversation count.
type ProjectWithCount struct {
	Project
	ConversationCount int `json:"conversation_count"`
}

// SearchHit is one ranked full-text match. Rank is the bm25 score (lower is
// better); the substring fallback path reports 0.
type SearchHit struct {
	MessageID      string  `json:"message_id"`
	ConversationID string  `json:"conversation_id"`
	Role           string  `json:"role"`
	Snippet        string  `json:"snippet"`
	CreatedAt      int64   `json:"created_at"`
	Rank           float64 `json:"rank"`
}

// Stats holds corpus totals for the dashboard.
type Stats struct {
	Conversations int `json:"conversations"`
	Messages      int `json:"messages"`
	Chunks        int `json:"chunks"`
	Projects      int `json:"projects"`
}

// ListOptions filters and pages conversation listings.
type ListOptions struct {
	Limit       int
	Offset      int
	TitleSearch string
	GizmoID     string
}

// JobStatus is the job state machine position.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobFailed
}

// JobType distinguishes conversation jobs from project jobs.
type JobType string

const (
	JobTypeConversation JobType = "conversation"
	JobTypeProject      JobType = "project"
)

// Progress is the optional worker progress report.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message,omitempty"`
}

// Job is one persisted pattern invocation against a target.
type Job struct {
	ID              string    `json:"id"`
	Type            JobType   `json:"type"`
	TargetID        string    `json:"target_id"`
	TargetName      string    `json:"target_name"`
	Pattern         string    `json:"pattern"`
	Status          JobStatus `json:"status"`
	Progress        *Progress `json:"progress,omitempty"`
	ResultPath      string    `json:"result_path,omitempty"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       int64     `json:"created_at"`
	StartedAt       int64     `json:"started_at,omitempty"`
	FinishedAt      int64     `json:"finished_at,omitempty"`
	LastHeartbeatAt int64     `json:"last_heartbeat_at,omitempty"`
}
