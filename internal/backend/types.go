package backend

// CallRequest starts a team run on the backend.
type CallRequest struct {
	TeamName    string `json:"team_name"`
	Content     string `json:"content"`
	FullMessage bool   `json:"full_message"`
	ExecutionID string `json:"execution_id,omitempty"`
}

type StopRequest struct {
	TeamName string `json:"team_name"`
}

// ErrorResponse is the body the backend sends with a non-2xx status.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Details string `json:"details,omitempty"`
}
