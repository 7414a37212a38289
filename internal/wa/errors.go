package wa

import "fmt"

// APIError is a structured provider error returned by the Graph API.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s (Code: %d): %s", e.Message, e.Code, e.Details)
	}
	return fmt.Sprintf("%s (Code: %d)", e.Message, e.Code)
}

type errorEnvelope struct {
	Error struct {
		Message   string `json:"message"`
		Code      int    `json:"code"`
		ErrorData struct {
			Details string `json:"details"`
		} `json:"error_data"`
	} `json:"error"`
}
