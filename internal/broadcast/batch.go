// Package broadcast dispatches bulk template sends: workers consume
// micro-batches of recipients from a durable queue and fan out sends under
// a per-job rate limit.
package broadcast

import (
	"github.com/sabnode/messaging-engine/internal/wa"
)

// JobDetails is the job metadata replicated into every micro-batch so a
// worker never needs a database read to start sending.
type JobDetails struct {
	ID                int64           `json:"id"`
	ProjectID         int64           `json:"projectId"`
	PhoneNumberID     string          `json:"phoneNumberId"`
	AccessToken       string          `json:"accessToken"`
	Template          wa.TemplateSpec `json:"template"`
	MessagesPerSecond int             `json:"messagesPerSecond"`
}

// Recipient is one target within a micro-batch.
type Recipient struct {
	ID        int64          `json:"id"` // broadcast_contacts row id
	Phone     string         `json:"phone"`
	Variables map[string]any `json:"variables,omitempty"`
}

// Batch is one queue unit: job metadata plus a bounded recipient slice.
type Batch struct {
	JobDetails JobDetails  `json:"jobDetails"`
	Contacts   []Recipient `json:"contacts"`
}
