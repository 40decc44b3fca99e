package domain

import "time"

// Position is a normalized image coordinate: x and y are fractions of the
// panorama width/height measured from the top-left corner, each in [0,1].
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Marker struct {
	ID       string   `json:"id"`
	FromRoom string   `json:"from_room"`
	ToRoom   string   `json:"to_room"`
	Position Position `json:"position"`
}

type Tooltip struct {
	ID       string   `json:"id"`
	RoomName string   `json:"room_name"`
	Content  string   `json:"content"`
	Position Position `json:"position"`
}

type AudioSource string

const (
	AudioSourceRecorded AudioSource = "recorded"
	AudioSourceFile     AudioSource = "file"
)

// PendingAudio is a narration clip that exists only locally: either a
// finalized recording or a selected file, not yet uploaded to the backend.
type PendingAudio struct {
	Source AudioSource
	Name   string
	Data   []byte
}

type AudioAttachment struct {
	RoomName string
	URL      string
	Pending  *PendingAudio
}

type Tour struct {
	ID        string
	Name      string
	OwnerID   uint
	StartRoom string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TourData is the normalized shape of a get-tour-data response. Duck-typed
// backend payloads (bare URL strings vs {url: ...} objects) are resolved
// before this struct is built.
type TourData struct {
	PanoramaURLs map[string]string
	Markers      map[string][]Marker
	Tooltips     map[string][]Tooltip
	AudioURLs    map[string]string
	StartRoom    string
}

type ImageFile struct {
	Name string
	Data []byte
}

// TourNode is one room projected into the shape the panorama viewer consumes.
type TourNode struct {
	ID          string           `json:"id"`
	Panorama    string           `json:"panorama"`
	Links       []NodeLink       `json:"links"`
	Annotations []NodeAnnotation `json:"annotations"`
	AudioURL    string           `json:"audio_url,omitempty"`
}

type NodeLink struct {
	TargetRoomID string  `json:"target_room_id"`
	Yaw          float64 `json:"yaw"`
	Pitch        float64 `json:"pitch"`
	Label        string  `json:"label"`
}

type NodeAnnotation struct {
	ID      string  `json:"id"`
	Yaw     float64 `json:"yaw"`
	Pitch   float64 `json:"pitch"`
	Content string  `json:"content"`
}

type User struct {
	ID           uint
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type AuthSession struct {
	ID        uint
	UserID    uint
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

type APIToken struct {
	ID         uint
	UserID     uint
	Name       string
	TokenHash  string
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

type AuditLog struct {
	ID          uint
	ActorUserID *uint
	Action      string
	TargetType  string
	TargetID    string
	Metadata    string
	CreatedAt   time.Time
}

type Identity struct {
	User        User
	Permissions map[string]struct{}
}

type Role struct {
	ID        uint
	Key       string
	Name      string
	CreatedAt time.Time
}
