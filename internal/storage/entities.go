package storage

import (
	"encoding/json"
	"time"
)

// Role discriminates the user variants. The shared fields live in User and
// the role-specific payload hangs off exactly one of the variant pointers.
type Role string

const (
	RoleSuperAdmin        Role = "superAdmin"
	RoleOrganizationAdmin Role = "organizationAdmin"
	RoleTeacher           Role = "teacher"
	RoleGuardian          Role = "guardian"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleOrganizationAdmin, RoleTeacher, RoleGuardian:
		return true
	}
	return false
}

type UserStatus string

const (
	UserStatusPending UserStatus = "pending"
	UserStatusActive  UserStatus = "active"
)

type User struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Email          string     `json:"email"`
	PasswordHash   string     `json:"-"`
	Role           Role       `json:"role"`
	OrganizationID string     `json:"organizationId,omitempty"`
	Status         UserStatus `json:"status"`
	CreatedAt      time.Time  `json:"createdAt"`

	Guardian *GuardianData          `json:"guardian,omitempty"`
	Teacher  *TeacherData           `json:"teacher,omitempty"`
	OrgAdmin *OrganizationAdminData `json:"orgAdmin,omitempty"`
}

type GuardianData struct {
	ChildIDs []string `json:"childIds"`
}

type TeacherData struct {
	OrganizationID string `json:"organizationId"`
}

type OrganizationAdminData struct {
	OrganizationID string `json:"organizationId"`
}

type ChatType string

const (
	ChatTypePrivate ChatType = "private"
	ChatTypeGroup   ChatType = "group"
)

// Chat carries the stable external ChatID alongside the storage-assigned id.
// Participants are kept sorted so a private pair always canonicalizes to the
// same sequence.
type Chat struct {
	ID           int64     `json:"-"`
	ChatID       string    `json:"chatId"`
	Type         ChatType  `json:"type"`
	Name         string    `json:"name,omitempty"`
	OwnerID      string    `json:"ownerId,omitempty"`
	Participants []string  `json:"participants"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (c Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// ChatSummary is the listing annotation: the chat plus its most recent
// message and the unread count for the requesting user. Computed at read
// time, the messages table stays authoritative.
type ChatSummary struct {
	Chat
	LastMessage *Message `json:"lastMessage,omitempty"`
	UnreadCount int64    `json:"unreadCount"`
}

// MessageStatus is the per-message delivery lifecycle. Values are ordered so
// a transition is legal iff it increases the status.
type MessageStatus int16

const (
	StatusNotDelivered MessageStatus = iota
	StatusDelivered
	StatusRead
)

func (s MessageStatus) String() string {
	switch s {
	case StatusNotDelivered:
		return "not_delivered"
	case StatusDelivered:
		return "delivered"
	case StatusRead:
		return "read"
	}
	return "unknown"
}

func (s MessageStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

type Attachment struct {
	URL      string `json:"fileUrl"`
	MimeType string `json:"fileType"`
	FileName string `json:"fileName"`
	Size     int64  `json:"fileSize"`
}

type Message struct {
	ID         int64         `json:"id"`
	ChatID     string        `json:"chatId"`
	Sender     string        `json:"sender"`
	Body       string        `json:"message"`
	Attachment *Attachment   `json:"attachment,omitempty"`
	Status     MessageStatus `json:"status"`
	CreatedAt  time.Time     `json:"createdAt"`
}

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestRejected RequestStatus = "rejected"
)

// Request is a teacher's invitation to link up with a guardian. Accepting
// one triggers creation of the private chat for the pair.
type Request struct {
	ID         int64         `json:"id"`
	TeacherID  string        `json:"teacher"`
	GuardianID string        `json:"guardian"`
	Status     RequestStatus `json:"status"`
	Message    string        `json:"message,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
}

type Address struct {
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	Country    string `json:"country,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
}

type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   Address   `json:"address"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}
