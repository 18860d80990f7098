package database

import "time"

// Supported values for Server.AuthMethod.
const (
	AuthMethodPassword      = "password"
	AuthMethodKey           = "key"
	AuthMethodKeyPassphrase = "key_passphrase"
)

// Server is a remote host record a user can open shell sessions against.
// The login secret (password, private key, or key passphrase) is stored
// fernet-encrypted under a key derived from the owner's master password;
// see internal/secrets.
type Server struct {
	ID      uint  `gorm:"primaryKey;autoIncrement" json:"id"`
	GroupID *uint `gorm:"index" json:"group_id,omitempty"`

	Name     string `gorm:"not null" json:"name"`
	Host     string `gorm:"not null" json:"host"`
	Port     int    `gorm:"not null;default:22" json:"port"`
	Username string `gorm:"not null" json:"username"`

	// AuthMethod is one of "password", "key", "key_passphrase".
	AuthMethod      string `gorm:"not null;default:password" json:"auth_method"`
	EncryptedSecret string `json:"-"`
	SecretSalt      string `json:"-"`

	// Optional bastion the SSH connection is tunnelled through.
	BastionHost string `json:"bastion_host,omitempty"`
	BastionPort int    `gorm:"default:22" json:"bastion_port,omitempty"`
	BastionUser string `json:"bastion_user,omitempty"`

	// Environment is a JSON object of env vars exported into new sessions.
	Environment string `gorm:"type:text;default:'{}'" json:"-"`

	// AIRules is server-specific context text for the AI planner.
	AIRules string `gorm:"type:text" json:"-"`
	// ForbiddenCommands is a newline-separated pattern list for the
	// safety gate, merged with group and global lists.
	ForbiddenCommands string `gorm:"type:text" json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Group *ServerGroup `gorm:"foreignKey:GroupID" json:"-"`
}

// ServerGroup carries AI rules and forbidden-command patterns shared by
// every server in the group.
type ServerGroup struct {
	ID                uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name              string    `gorm:"uniqueIndex;not null" json:"name"`
	AIRules           string    `gorm:"type:text" json:"-"`
	ForbiddenCommands string    `gorm:"type:text" json:"-"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// CommandLog is the history sink for AI-executed commands. Output is a
// bounded snippet, not a full transcript.
type CommandLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ServerID  uint      `gorm:"not null;index" json:"server_id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Command   string    `gorm:"not null" json:"command"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Output    string    `gorm:"type:text" json:"output"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// KnowledgeEntry is the best-effort knowledge sink: notable facts
// extracted from executed commands (installed packages, service changes,
// edited configs).
type KnowledgeEntry struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	ServerID  uint      `gorm:"not null;index" json:"server_id"`
	Topic     string    `gorm:"not null" json:"topic"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type User struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null;size:64" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Role         string    `gorm:"not null;default:user" json:"role"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// UserServer assigns a server record to a user. Non-admin users may only
// open sessions against servers assigned to them.
type UserServer struct {
	UserID   uint `gorm:"primaryKey" json:"user_id"`
	ServerID uint `gorm:"primaryKey" json:"server_id"`
}
