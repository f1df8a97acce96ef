package domain

import (
	"time"
)

// Identity is the verified user attached to a connection at handshake.
// Immutable for the lifetime of the connection.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar,omitempty"`
}

// User is the GORM model for the users table.
type User struct {
	ID        string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	Username  string     `gorm:"type:varchar(50);uniqueIndex;not null" json:"username"`
	Email     string     `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Password  string     `gorm:"type:varchar(255);not null" json:"-"`
	Avatar    string     `gorm:"type:varchar(255)" json:"avatar,omitempty"`
	IsOnline  bool       `gorm:"default:false" json:"is_online"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (User) TableName() string { return "users" }

// SenderSummary is the denormalized sender shape carried on message events.
func (u *User) SenderSummary() Identity {
	return Identity{ID: u.ID, Username: u.Username, Email: u.Email, Avatar: u.Avatar}
}

// Room is the GORM model for the rooms table. A room is either a group
// conversation or a two-party direct conversation (IsGroup=false).
type Room struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name        string    `gorm:"type:varchar(50);index;not null" json:"name"`
	Description string    `gorm:"type:varchar(255)" json:"description,omitempty"`
	IsGroup     bool      `gorm:"default:true" json:"is_group"`
	AdminID     string    `gorm:"type:varchar(36);index;not null" json:"admin_id"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Room) TableName() string { return "rooms" }

// Participant links a user to a room. Composite primary key keeps a user
// from joining the same room twice.
type Participant struct {
	UserID   string    `gorm:"type:varchar(36);primaryKey" json:"user_id"`
	RoomID   string    `gorm:"type:varchar(36);primaryKey;index" json:"room_id"`
	Role     string    `gorm:"type:varchar(10);default:'MEMBER'" json:"role"`
	JoinedAt time.Time `gorm:"autoCreateTime" json:"joined_at"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (Participant) TableName() string { return "participants" }

// Message is the GORM model for the messages table. Rows are immutable once
// created; only the read_receipts side table grows afterwards.
type Message struct {
	ID            string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Content       string    `gorm:"type:text;not null" json:"content"`
	SenderID      string    `gorm:"type:varchar(36);index;not null" json:"sender_id"`
	RoomID        string    `gorm:"type:varchar(36);index:idx_room_created;not null" json:"room_id"`
	AttachmentURL string    `gorm:"type:varchar(255)" json:"attachment_url,omitempty"`
	URLPreview    string    `gorm:"type:text" json:"url_preview,omitempty"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index:idx_room_created" json:"created_at"`

	Sender *User `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
}

func (Message) TableName() string { return "messages" }

// ReadReceipt marks a message as read by a user. Insert-once; the presence
// of the row is the marker, it is never updated.
type ReadReceipt struct {
	MessageID string    `gorm:"type:varchar(36);primaryKey" json:"message_id"`
	UserID    string    `gorm:"type:varchar(36);primaryKey;index" json:"user_id"`
	ReadAt    time.Time `gorm:"autoCreateTime" json:"read_at"`
}

func (ReadReceipt) TableName() string { return "read_receipts" }

// PresenceRecord is the soft online/offline signal exposed over the API.
type PresenceRecord struct {
	UserID   string     `json:"user_id"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// Models returns every persisted model, in migration order.
func Models() []interface{} {
	return []interface{}{&User{}, &Room{}, &Participant{}, &Message{}, &ReadReceipt{}}
}
