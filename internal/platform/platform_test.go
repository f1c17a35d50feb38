package platform

import (
	"runtime"
	"testing"
)

func TestDetectCached(t *testing.T) {
	detectionDone = false
	detectedPlatform = ""

	p := Detect()
	if p == "" {
		t.Error("Detect() returned empty platform")
	}
	if runtime.GOOS == "darwin" && p != PlatformMacOS {
		t.Errorf("Expected PlatformMacOS on darwin, got %s", p)
	}
	if p2 := Detect(); p != p2 {
		t.Errorf("Detect() not cached: got %s then %s", p, p2)
	}
}

func TestPlatformString(t *testing.T) {
	tests := []struct {
		platform Platform
		expected string
	}{
		{PlatformMacOS, "macOS"},
		{PlatformLinux, "Linux"},
		{PlatformWSL1, "WSL1"},
		{PlatformWSL2, "WSL2"},
		{PlatformWindows, "Windows"},
		{PlatformUnknown, "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.platform.String(); got != tt.expected {
			t.Errorf("Platform(%s).String() = %s, want %s", tt.platform, got, tt.expected)
		}
	}
}

func TestIsWSL(t *testing.T) {
	defer func() { detectionDone = false }()

	for p, want := range map[Platform]bool{
		PlatformMacOS: false,
		PlatformLinux: false,
		PlatformWSL1:  true,
		PlatformWSL2:  true,
	} {
		detectedPlatform = p
		detectionDone = true
		if got := IsWSL(); got != want {
			t.Errorf("IsWSL() for %s = %v, want %v", p, got, want)
		}
	}
}

func TestServiceManagerNames(t *testing.T) {
	if got := ServiceManagerNames(PlatformLinux); len(got) != 1 || got[0] != "systemd" {
		t.Errorf("linux service managers = %v", got)
	}
	if got := ServiceManagerNames(PlatformMacOS); len(got) != 0 {
		t.Errorf("macOS should rely on pid 1 only, got %v", got)
	}
}

func TestFsTypeForLongestMount(t *testing.T) {
	mounts := "rootfs / ext4 rw 0 0\n" +
		"drvfs /mnt/c 9p rw 0 0\n" +
		"server:/export /mnt/c/share nfs4 rw 0 0\n"

	if got := fsTypeFor("/home/dev/.claude/projects", mounts); got != "ext4" {
		t.Errorf("expected ext4, got %q", got)
	}
	if got := fsTypeFor("/mnt/c/Users/dev", mounts); got != "9p" {
		t.Errorf("expected 9p, got %q", got)
	}
	if got := fsTypeFor("/mnt/c/share/x", mounts); got != "nfs4" {
		t.Errorf("expected nfs4, got %q", got)
	}
}

func TestFsnotifyWarning(t *testing.T) {
	if fsnotifyWarning("ext4") != "" {
		t.Error("ext4 should not warn")
	}
	for _, fs := range []string{"9p", "nfs", "cifs", "fuse.sshfs"} {
		if fsnotifyWarning(fs) == "" {
			t.Errorf("expected warning for %s", fs)
		}
	}
}
