package safety

import (
	"reflect"
	"testing"
)

func TestClassify_Dangerous(t *testing.T) {
	cases := []string{
		"rm -rf /",
		"rm -rf /var/log",
		"sudo rm -fr ~/",
		"mkfs.ext4 /dev/sdb1",
		"dd if=/dev/zero of=/dev/sda",
		"shutdown -h now",
		"reboot",
		"systemctl stop nginx",
		"systemctl mask sshd",
		"init 0",
		"truncate -s 0 /var/log/syslog",
		"wipefs -a /dev/sdb",
	}
	for _, cmd := range cases {
		if got := Classify(cmd, nil); got != ReasonDangerous {
			t.Errorf("Classify(%q) = %q, want dangerous", cmd, got)
		}
	}
}

func TestClassify_None(t *testing.T) {
	cases := []string{
		"ls -la",
		"df -h",
		"cat /etc/hostname",
		"systemctl status nginx",
		"rm",            // no flags, no target
		"echo rmdir ok", // rmdir is not rm -rf
		"grep -rf patterns.txt .",
	}
	for _, cmd := range cases {
		if got := Classify(cmd, nil); got != ReasonNone {
			t.Errorf("Classify(%q) = %q, want none", cmd, got)
		}
	}
}

func TestClassify_ForbiddenWinsOverDangerous(t *testing.T) {
	forbidden := []string{"rm -rf"}
	if got := Classify("rm -rf /tmp/x", forbidden); got != ReasonForbidden {
		t.Errorf("got %q, want forbidden", got)
	}
}

func TestClassify_ForbiddenSubstringCaseInsensitive(t *testing.T) {
	forbidden := []string{"DROP TABLE"}
	if got := Classify("mysql -e 'drop table users'", forbidden); got != ReasonForbidden {
		t.Errorf("got %q, want forbidden", got)
	}
	// Benign command matching a forbidden substring is still forbidden.
	if got := Classify("echo drop table", forbidden); got != ReasonForbidden {
		t.Errorf("benign match: got %q, want forbidden", got)
	}
}

func TestRequiresConfirm(t *testing.T) {
	if RequiresConfirm(ReasonNone) {
		t.Error("none should not require confirmation")
	}
	if !RequiresConfirm(ReasonDangerous) || !RequiresConfirm(ReasonForbidden) {
		t.Error("dangerous and forbidden must require confirmation")
	}
}

func TestMergeForbidden(t *testing.T) {
	got := MergeForbidden(
		[]string{"rm -rf", "  ", "DROP"},
		[]string{"drop", "shutdown"},
		nil,
		[]string{"RM -RF"},
	)
	want := []string{"rm -rf", "DROP", "shutdown"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MergeForbidden = %v, want %v", got, want)
	}
}
