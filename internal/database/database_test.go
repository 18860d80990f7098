package database

import (
	"errors"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gluk-w/shellpilot/internal/config"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	if err := db.AutoMigrate(
		&Server{}, &ServerGroup{}, &CommandLog{}, &KnowledgeEntry{},
		&Setting{}, &User{}, &UserServer{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	prev := DB
	DB = db
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		DB = prev
	})
}

func TestGetServerForUserScoping(t *testing.T) {
	setupTestDB(t)

	group := &ServerGroup{Name: "prod", AIRules: "be careful"}
	if err := DB.Create(group).Error; err != nil {
		t.Fatalf("create group: %v", err)
	}
	srv := &Server{GroupID: &group.ID, Name: "web-1", Host: "10.0.0.5", Port: 22, Username: "deploy", AuthMethod: AuthMethodPassword}
	if err := DB.Create(srv).Error; err != nil {
		t.Fatalf("create server: %v", err)
	}

	// Admin reaches everything, group preloaded.
	got, err := GetServerForUser(srv.ID, 99, true)
	if err != nil {
		t.Fatalf("GetServerForUser as admin: %v", err)
	}
	if got.Group == nil || got.Group.AIRules != "be careful" {
		t.Errorf("group not preloaded: %+v", got.Group)
	}

	// Unassigned non-admin is told the record does not exist.
	if _, err := GetServerForUser(srv.ID, 5, false); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("unassigned user: err = %v, want ErrRecordNotFound", err)
	}

	if err := SetUserServers(5, []uint{srv.ID}); err != nil {
		t.Fatalf("SetUserServers: %v", err)
	}
	if _, err := GetServerForUser(srv.ID, 5, false); err != nil {
		t.Errorf("assigned user: %v", err)
	}
}

func TestListServersForUser(t *testing.T) {
	setupTestDB(t)

	for _, name := range []string{"a", "b", "c"} {
		if err := DB.Create(&Server{Name: name, Host: name, Port: 22, Username: "u", AuthMethod: AuthMethodPassword}).Error; err != nil {
			t.Fatalf("create server: %v", err)
		}
	}
	if err := SetUserServers(2, []uint{1, 3}); err != nil {
		t.Fatalf("SetUserServers: %v", err)
	}

	all, err := ListServersForUser(0, true)
	if err != nil || len(all) != 3 {
		t.Fatalf("admin list = %d servers, err %v", len(all), err)
	}

	mine, err := ListServersForUser(2, false)
	if err != nil {
		t.Fatalf("user list: %v", err)
	}
	if len(mine) != 2 || mine[0].Name != "a" || mine[1].Name != "c" {
		t.Errorf("user list = %+v", mine)
	}
}

func TestSetUserServersReplaces(t *testing.T) {
	setupTestDB(t)

	if err := SetUserServers(1, []uint{10, 11}); err != nil {
		t.Fatalf("SetUserServers: %v", err)
	}
	if err := SetUserServers(1, []uint{12}); err != nil {
		t.Fatalf("SetUserServers replace: %v", err)
	}

	ids, err := GetUserServers(1)
	if err != nil {
		t.Fatalf("GetUserServers: %v", err)
	}
	if len(ids) != 1 || ids[0] != 12 {
		t.Errorf("ids = %v, want [12]", ids)
	}
}

func TestDeleteUserRemovesAssignments(t *testing.T) {
	setupTestDB(t)

	u := &User{Username: "bob", PasswordHash: "x", Role: "user"}
	if err := CreateUser(u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := SetUserServers(u.ID, []uint{1, 2}); err != nil {
		t.Fatalf("SetUserServers: %v", err)
	}

	if err := DeleteUser(u.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}

	ids, _ := GetUserServers(u.ID)
	if len(ids) != 0 {
		t.Errorf("assignments remain after delete: %v", ids)
	}
	if _, err := GetUserByUsername("bob"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("user remains after delete: %v", err)
	}
}

func TestCommandLogListAndPrune(t *testing.T) {
	setupTestDB(t)

	code := 0
	for i := 0; i < 5; i++ {
		if err := RecordCommand(&CommandLog{ServerID: 1, UserID: 1, Command: "uptime", ExitCode: &code}); err != nil {
			t.Fatalf("RecordCommand: %v", err)
		}
	}
	// Age two rows past the retention window.
	old := time.Now().Add(-100 * 24 * time.Hour)
	if err := DB.Model(&CommandLog{}).Where("id <= ?", 2).Update("created_at", old).Error; err != nil {
		t.Fatalf("age rows: %v", err)
	}

	logs, err := ListCommandLogs(1, 0)
	if err != nil || len(logs) != 5 {
		t.Fatalf("ListCommandLogs = %d, err %v", len(logs), err)
	}
	if logs[0].ID < logs[4].ID {
		t.Error("logs not newest first")
	}

	n, err := PruneCommandLogs(90 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("PruneCommandLogs: %v", err)
	}
	if n != 2 {
		t.Errorf("pruned %d rows, want 2", n)
	}
}

func TestSettingRoundTrip(t *testing.T) {
	setupTestDB(t)

	if err := SetSetting("theme", "dark"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := SetSetting("theme", "light"); err != nil {
		t.Fatalf("SetSetting update: %v", err)
	}
	v, err := GetSetting("theme")
	if err != nil || v != "light" {
		t.Errorf("GetSetting = (%q, %v)", v, err)
	}
}

func TestCommandLogRetentionDaysOverride(t *testing.T) {
	setupTestDB(t)

	prev := config.Cfg.CommandLogRetentionDays
	config.Cfg.CommandLogRetentionDays = 30
	t.Cleanup(func() { config.Cfg.CommandLogRetentionDays = prev })

	// No stored override: the configured default wins.
	if d := CommandLogRetentionDays(); d != 30 {
		t.Errorf("retention = %d, want configured 30", d)
	}

	if err := SetSetting(SettingCommandLogRetentionDays, "7"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if d := CommandLogRetentionDays(); d != 7 {
		t.Errorf("retention = %d, want stored 7", d)
	}

	// Garbage in the settings row falls back to config.
	if err := SetSetting(SettingCommandLogRetentionDays, "soon"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if d := CommandLogRetentionDays(); d != 30 {
		t.Errorf("retention = %d, want configured 30", d)
	}
}

func TestUserHelpers(t *testing.T) {
	setupTestDB(t)

	count, err := UserCount()
	if err != nil || count != 0 {
		t.Fatalf("UserCount = (%d, %v)", count, err)
	}

	if err := CreateUser(&User{Username: "admin2", PasswordHash: "x", Role: "admin"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := CreateUser(&User{Username: "admin1", PasswordHash: "x", Role: "admin"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	first, err := GetFirstAdmin()
	if err != nil {
		t.Fatalf("GetFirstAdmin: %v", err)
	}
	if first.Username != "admin2" {
		t.Errorf("GetFirstAdmin = %q, want lowest id", first.Username)
	}

	if err := UpdateUserPassword(first.ID, "newhash"); err != nil {
		t.Fatalf("UpdateUserPassword: %v", err)
	}
	reloaded, _ := GetUserByID(first.ID)
	if reloaded.PasswordHash != "newhash" {
		t.Error("password hash not updated")
	}
}

func TestForbiddenPatterns(t *testing.T) {
	got := ForbiddenPatterns("rm -rf\n\n  DROP TABLE  \n")
	if len(got) != 2 || got[0] != "rm -rf" || got[1] != "DROP TABLE" {
		t.Errorf("ForbiddenPatterns = %v", got)
	}
	if got := ForbiddenPatterns(""); got != nil {
		t.Errorf("empty column = %v, want nil", got)
	}
}
