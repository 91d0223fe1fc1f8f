/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package audit

import "time"

// EventType represents the type of audit event
type EventType string

const (
	// Submission lifecycle
	EventSubmissionAccepted  EventType = "submission.accepted"
	EventSubmissionRejected  EventType = "submission.rejected"
	EventSubmissionMalformed EventType = "submission.malformed"
	EventSubmissionFailed    EventType = "submission.failed"

	// Gate decisions
	EventTokenRejected EventType = "request.token_rejected"
	EventOriginBlocked EventType = "request.origin_blocked"
	EventRateLimited   EventType = "request.rate_limited"
)

// Severity represents the severity level of an audit event
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is a single audit record. It never carries the signer's name,
// identification number or image.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`

	Client Client `json:"client"`

	// Submission is set for submission events.
	Submission *Submission `json:"submission,omitempty"`

	// RequestID correlates the event with the request log line.
	RequestID string `json:"requestId,omitempty"`

	Details map[string]interface{} `json:"details,omitempty"`
}

// Client describes the caller as seen by the relay.
type Client struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	Origin    string `json:"origin,omitempty"`
}

// Submission summarises a signature submission.
type Submission struct {
	ID string `json:"id,omitempty"`
	// Reason is the validation reason code for rejected submissions.
	Reason     string `json:"reason,omitempty"`
	ImageBytes int    `json:"imageBytes,omitempty"`
}

// SeverityForEventType returns the default severity for an event type
func SeverityForEventType(eventType EventType) Severity {
	switch eventType {
	case EventSubmissionFailed:
		return SeverityCritical
	case EventTokenRejected, EventOriginBlocked, EventRateLimited:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
