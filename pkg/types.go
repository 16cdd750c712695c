package pkg

import (
	"fmt"
	"time"
)

// Role describes who authored a turn.  Only two roles take part in an intake
// conversation: the person seeking support and the assistant.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation.  Turns are immutable once they are
// appended to a transcript.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Stage is a named phase of the conversation.
type Stage string

const (
	StageGreeting         Stage = "greeting"
	StageTopic            Stage = "topic"
	StageSummary          Stage = "summary"
	StageConsent          Stage = "consent"
	StageResourceDelivery Stage = "resource_delivery"
	StageComplete         Stage = "complete"
)

// ConversationState is the live position of one session in the intake flow.
// TopicIndex is only meaningful while Stage is StageTopic but is kept after
// the topics are exhausted so clients can show progress.
type ConversationState struct {
	Stage                Stage `json:"stage"`
	TopicIndex           int   `json:"topic_index"`
	RetryCount           int   `json:"retry_count"`
	LastAnswerSufficient bool  `json:"last_answer_sufficient"`
	ConsentGranted       *bool `json:"consent_granted,omitempty"`
}

// String renders the stage the way it appears in logs, e.g. "topic(3)".
func (s ConversationState) String() string {
	if s.Stage == StageTopic {
		return fmt.Sprintf("topic(%d)", s.TopicIndex)
	}
	return string(s.Stage)
}

// TopicSpec is one entry of the static six-topic table.
type TopicSpec struct {
	Index         int    `yaml:"index" json:"index"`
	Name          string `yaml:"name" json:"name"`
	Prompt        string `yaml:"prompt" json:"prompt"`
	Rephrase      string `yaml:"rephrase" json:"rephrase"`
	// Question is asked verbatim when the generation service is unavailable.
	Question      string `yaml:"question" json:"question"`
	MinWords      int    `yaml:"min_words" json:"min_words"`
	RejectGeneric bool   `yaml:"reject_generic" json:"reject_generic"`
}

// MaxResourceEntries caps every resource bundle.
const MaxResourceEntries = 7

// ResourceEntry is a single support service offered to the user.
type ResourceEntry struct {
	Name        string `json:"name"`
	Contact     string `json:"contact"`
	Description string `json:"description"`
}

// ResourceBundle is assembled after the user accepts help.  Source is
// "local" when the entries came from a location-scoped lookup and
// "national" otherwise.
type ResourceBundle struct {
	Entries  []ResourceEntry `json:"entries"`
	Source   string          `json:"source"`
	Location string          `json:"location,omitempty"`
	Closing  string          `json:"closing"`
}

// Digest is the five-section summary handed to a clinician.
type Digest struct {
	PresentingConcerns string   `json:"presenting_concerns"`
	EmotionalState     string   `json:"emotional_state"`
	RiskFactors        string   `json:"risk_factors"`
	SupportNeeds       string   `json:"support_needs"`
	RecommendedCare    string   `json:"recommended_care"`
	Topics             []string `json:"topics"`
	Fallback           bool     `json:"fallback"`
}

// Recommendation names a type of provider that may suit the user.
type Recommendation struct {
	ProviderType string `json:"providerType"`
	Rationale    string `json:"rationale"`
	Expectations string `json:"expectations"`
	Credentials  string `json:"credentials"`
}

// PersonalizedComments are optional closing remarks attached to a report.
type PersonalizedComments struct {
	FinalComments   string           `json:"finalComments"`
	Recommendations []Recommendation `json:"doctorRecommendations"`
}

// Report is what the document collaborator stores for a finished session.
type Report struct {
	ID        string                `json:"id"`
	SessionID string                `json:"session_id"`
	Summary   string                `json:"summary"`
	Resources ResourceBundle        `json:"resources"`
	Comments  *PersonalizedComments `json:"comments,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
}

// Session represents one intake conversation.  It is keyed by a UUID.
type Session struct {
	ID         string     `json:"id"`
	CreatedAt  time.Time  `json:"created_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
	MessageCap int        `json:"message_cap"`
}

// Place is a resolved location granted by the user's device.
type Place struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// TurnRequest carries one transcribed user utterance.
type TurnRequest struct {
	Text string `json:"text"`
}

// TurnResponse contains the assistant messages produced by a turn.  When the
// input was dropped (echo, suspended listening) Discarded is set and Reason
// says why.
type TurnResponse struct {
	Messages  []string          `json:"messages"`
	State     ConversationState `json:"state"`
	Discarded bool              `json:"discarded"`
	Reason    string            `json:"reason,omitempty"`
	ReportID  string            `json:"report_id,omitempty"`
}

// SessionView is returned to clinician dashboards.
type SessionView struct {
	Session    Session           `json:"session"`
	State      ConversationState `json:"state"`
	Transcript []Turn            `json:"transcript"`
	Digest     *Digest           `json:"digest,omitempty"`
}

// LocationRequest carries coordinates granted by the user's device.
type LocationRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// PlaybackRequest reports a speech synthesis event from the client.
type PlaybackRequest struct {
	Event string `json:"event"`
}

// KeywordRule maps a label to its trigger words.  A trigger ending in "*"
// matches any word that starts with it.
type KeywordRule struct {
	Label    string   `yaml:"label" json:"label"`
	Triggers []string `yaml:"triggers" json:"triggers"`
}
