package syncproto

import "time"

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	DeviceID string `json:"deviceId"`
}

type AuthResponse struct {
	UserID      string    `json:"userId"`
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type PingRequest struct{}

type PingResponse struct {
	Status string `json:"status"`
}

// Transaction is one pushed mutation.
type Transaction struct {
	ID        string    `json:"id"`
	EntryID   string    `json:"entryId"`
	Operation string    `json:"operation"`
	Payload   []byte    `json:"payload,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	CreatedBy string    `json:"createdBy"`
}

type PushRequest struct {
	WorkspaceID  string        `json:"workspaceId"`
	Transactions []Transaction `json:"transactions"`
}

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Error codes carried in failed results.
const (
	CodeForbidden = "forbidden"
	CodeNotFound  = "not_found"
	CodeInvalid   = "invalid"
	CodeInternal  = "internal"
)

// TransactionResult reports the outcome of one pushed transaction. Results
// are returned in request order.
type TransactionResult struct {
	ID      string `json:"id"`
	Status  Status `json:"status"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
	Version int64  `json:"version,omitempty"`
}

type PushResponse struct {
	Results []TransactionResult `json:"results"`
}

type PullRequest struct {
	WorkspaceID string `json:"workspaceId"`
	Cursor      string `json:"cursor"`
	Limit       int    `json:"limit"`
}

type Entry struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspaceId"`
	Type        string     `json:"type"`
	ParentID    string     `json:"parentId,omitempty"`
	RootID      string     `json:"rootId"`
	State       []byte     `json:"state,omitempty"`
	CreatedBy   string     `json:"createdBy"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedBy   string     `json:"updatedBy,omitempty"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
	Version     int64      `json:"version"`
	Deleted     bool       `json:"deleted,omitempty"`
}

type Collaboration struct {
	EntryID     string     `json:"entryId"`
	WorkspaceID string     `json:"workspaceId"`
	UserID      string     `json:"userId"`
	Role        string     `json:"role"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
	Version     int64      `json:"version"`
}

type Interaction struct {
	EntryID         string     `json:"entryId"`
	WorkspaceID     string     `json:"workspaceId"`
	UserID          string     `json:"userId"`
	LastSeenAt      *time.Time `json:"lastSeenAt,omitempty"`
	LastOpenedAt    *time.Time `json:"lastOpenedAt,omitempty"`
	LastSeenVersion int64      `json:"lastSeenVersion"`
	Version         int64      `json:"version"`
}

type PullResponse struct {
	Entries        []Entry         `json:"entries"`
	Collaborations []Collaboration `json:"collaborations"`
	Interactions   []Interaction   `json:"interactions"`
	NextCursor     string          `json:"nextCursor"`
	HasMore        bool            `json:"hasMore"`
}

type PushInteractionsRequest struct {
	WorkspaceID  string        `json:"workspaceId"`
	Interactions []Interaction `json:"interactions"`
}

// PushInteractionsResponse returns the merged server rows.
type PushInteractionsResponse struct {
	Interactions []Interaction `json:"interactions"`
}
