package session

import (
	"encoding/json"
	"time"
)

type Status int

const (
	Pending Status = iota
	Approved
	Blocked
)

var statusNames = map[Status]string{
	Pending:  "pending",
	Approved: "approved",
	Blocked:  "blocked",
}

var statusFromName = map[string]Status{
	"pending":  Pending,
	"approved": Approved,
	"blocked":  Blocked,
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

// ParseStatus maps a status name to its value.
func ParseStatus(name string) (Status, bool) {
	s, ok := statusFromName[name]
	return s, ok
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if v, ok := statusFromName[name]; ok {
		*s = v
	}
	return nil
}

// Visitor is one tracked browsing session. ID is assigned by the server;
// SessionID is the token the visitor's browser supplied.
type Visitor struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`

	IP        string  `json:"ip"`
	Country   string  `json:"country"`
	City      string  `json:"city"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	ISP       string  `json:"isp"`
	UserAgent string  `json:"user_agent"`
	Screen    string  `json:"screen"`
	Timezone  string  `json:"timezone"`
	Languages string  `json:"languages"`

	IsBot    bool    `json:"is_bot"`
	BotScore float64 `json:"bot_score"`

	Status   Status   `json:"status"`
	PageID   string   `json:"page_id,omitempty"`
	Rotation Rotation `json:"rotation"`

	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen"`
}

// Clone returns a deep copy of the Visitor, duplicating the rotation page
// list so the copy can be mutated independently of the original.
func (v *Visitor) Clone() *Visitor {
	c := *v
	c.Rotation = v.Rotation.clone()
	return &c
}

// EffectivePageID returns the page a visitor should currently be shown:
// the rotation's current page when rotating, else the explicit page. An
// empty result means the system default page.
func (v *Visitor) EffectivePageID() string {
	if v.Rotation.Active {
		return v.Rotation.Current()
	}
	return v.PageID
}

// StatusView is the read-only projection returned to a polling visitor.
type StatusView struct {
	Status       Status  `json:"status"`
	IsRotating   bool    `json:"is_rotating"`
	PageContent  *string `json:"page_content,omitempty"`
	RotationMode bool    `json:"rotation_mode,omitempty"`
	IntervalMS   int     `json:"interval_ms,omitempty"`
	PageIndex    *int    `json:"page_index,omitempty"`
	TotalPages   int     `json:"total_pages,omitempty"`
}

// Registration is the metadata a visitor presents on first contact.
type Registration struct {
	SessionID    string
	IP           string
	UserAgent    string
	ScreenWidth  int
	ScreenHeight int
	Timezone     string
	Languages    string
}

// Stats summarises the visitor population.
type Stats struct {
	Online  int `json:"online"`
	Pending int `json:"pending"`
}
