package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gluk-w/shellpilot/internal/config"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func Init() error {
	dbPath := config.Cfg.DatabasePath
	dbDir := filepath.Dir(dbPath)
	if dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}

	if err := DB.AutoMigrate(
		&Server{}, &ServerGroup{}, &CommandLog{}, &KnowledgeEntry{},
		&Setting{}, &User{}, &UserServer{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	return nil
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// SettingCommandLogRetentionDays overrides the configured command-log
// retention window when set through the settings endpoint.
const SettingCommandLogRetentionDays = "command_log_retention_days"

func GetSetting(key string) (string, error) {
	var s Setting
	if err := DB.Where("key = ?", key).First(&s).Error; err != nil {
		return "", err
	}
	return s.Value, nil
}

func SetSetting(key, value string) error {
	return DB.Where("key = ?", key).Assign(Setting{Value: value}).FirstOrCreate(&Setting{Key: key}).Error
}

// CommandLogRetentionDays returns the retention window in days, preferring
// the persisted setting over the configured default.
func CommandLogRetentionDays() int {
	if v, err := GetSetting(SettingCommandLogRetentionDays); err == nil {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return config.Cfg.CommandLogRetentionDays
}

// Server helpers

// GetServerForUser loads a server record scoped to the requesting user.
// Admins can reach every server; other users only servers assigned to
// them. The group is preloaded so rules and forbidden lists are available
// without a second query.
func GetServerForUser(serverID, userID uint, isAdmin bool) (*Server, error) {
	var srv Server
	if err := DB.Preload("Group").First(&srv, serverID).Error; err != nil {
		return nil, err
	}
	if !isAdmin && !IsUserAssignedToServer(userID, serverID) {
		return nil, gorm.ErrRecordNotFound
	}
	return &srv, nil
}

func ListServersForUser(userID uint, isAdmin bool) ([]Server, error) {
	var servers []Server
	q := DB.Order("id")
	if !isAdmin {
		q = q.Joins("JOIN user_servers ON user_servers.server_id = servers.id AND user_servers.user_id = ?", userID)
	}
	if err := q.Find(&servers).Error; err != nil {
		return nil, err
	}
	return servers, nil
}

func IsUserAssignedToServer(userID, serverID uint) bool {
	var count int64
	DB.Model(&UserServer{}).Where("user_id = ? AND server_id = ?", userID, serverID).Count(&count)
	return count > 0
}

// ForbiddenPatterns splits a newline-separated pattern column into a
// clean slice.
func ForbiddenPatterns(column string) []string {
	var out []string
	for _, line := range strings.Split(column, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// Command log helpers

func RecordCommand(entry *CommandLog) error {
	return DB.Create(entry).Error
}

func ListCommandLogs(serverID uint, limit int) ([]CommandLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var logs []CommandLog
	if err := DB.Where("server_id = ?", serverID).
		Order("id DESC").Limit(limit).Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

// PruneCommandLogs deletes history older than the retention window.
// Called from the cron job; returns the number of rows removed.
func PruneCommandLogs(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	res := DB.Where("created_at < ?", cutoff).Delete(&CommandLog{})
	return res.RowsAffected, res.Error
}

// User helpers

func GetUserByUsername(username string) (*User, error) {
	var u User
	if err := DB.Where("username = ?", username).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func GetUserByID(id uint) (*User, error) {
	var u User
	if err := DB.First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func CreateUser(user *User) error {
	return DB.Create(user).Error
}

func ListUsers() ([]User, error) {
	var users []User
	if err := DB.Order("id").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// DeleteUser removes a user and their server assignments.
func DeleteUser(userID uint) error {
	return DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&UserServer{}).Error; err != nil {
			return err
		}
		return tx.Delete(&User{}, userID).Error
	})
}

func GetUserServers(userID uint) ([]uint, error) {
	var assignments []UserServer
	if err := DB.Where("user_id = ?", userID).Order("server_id").Find(&assignments).Error; err != nil {
		return nil, err
	}
	ids := make([]uint, len(assignments))
	for i, a := range assignments {
		ids[i] = a.ServerID
	}
	return ids, nil
}

// SetUserServers replaces a user's server assignments in one transaction.
func SetUserServers(userID uint, serverIDs []uint) error {
	return DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&UserServer{}).Error; err != nil {
			return err
		}
		for _, sid := range serverIDs {
			if err := tx.Create(&UserServer{UserID: userID, ServerID: sid}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func UpdateUserPassword(userID uint, passwordHash string) error {
	return DB.Model(&User{}).Where("id = ?", userID).Update("password_hash", passwordHash).Error
}

func UserCount() (int64, error) {
	var count int64
	err := DB.Model(&User{}).Count(&count).Error
	return count, err
}

func GetFirstAdmin() (*User, error) {
	var u User
	if err := DB.Where("role = ?", "admin").Order("id").First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}
