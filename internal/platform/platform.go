// Package platform detects the host OS flavour and answers the questions the
// monitor needs about it: which processes act as the service manager that
// orphaned shells are reparented to, and whether file watching is reliable.
package platform

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Platform represents the detected platform
type Platform string

const (
	PlatformMacOS   Platform = "macos"
	PlatformLinux   Platform = "linux"
	PlatformWSL1    Platform = "wsl1"
	PlatformWSL2    Platform = "wsl2"
	PlatformWindows Platform = "windows"
	PlatformUnknown Platform = "unknown"
)

var (
	detectedPlatform Platform
	detectionDone    bool
)

// Detect returns the current platform, caching the result.
func Detect() Platform {
	if detectionDone {
		return detectedPlatform
	}
	detectedPlatform = detectPlatform()
	detectionDone = true
	return detectedPlatform
}

func detectPlatform() Platform {
	switch runtime.GOOS {
	case "darwin":
		return PlatformMacOS
	case "windows":
		return PlatformWindows
	case "linux":
		return detectLinuxOrWSL()
	default:
		return PlatformUnknown
	}
}

func detectLinuxOrWSL() Platform {
	procVersion, _ := os.ReadFile("/proc/version")
	version := string(procVersion)
	if os.Getenv("WSL_DISTRO_NAME") == "" && !strings.Contains(strings.ToLower(version), "microsoft") {
		return PlatformLinux
	}

	// WSL2 kernels report "microsoft-standard"; WSL1 reports "Microsoft".
	if strings.Contains(version, "microsoft-standard") {
		return PlatformWSL2
	}
	if strings.Contains(version, "Microsoft") {
		return PlatformWSL1
	}
	if _, err := os.Stat("/run/WSL"); err == nil {
		return PlatformWSL2
	}
	return PlatformWSL1
}

// IsWSL returns true if running in any WSL environment
func IsWSL() bool {
	p := Detect()
	return p == PlatformWSL1 || p == PlatformWSL2
}

// ServiceManagerNames lists process names, besides pid 1, that adopt
// processes whose parent exited. On Linux desktops the per-user systemd
// instance is a child subreaper, so a shell whose terminal closed lands
// there rather than under init. launchd on macOS is always pid 1.
func ServiceManagerNames(p Platform) []string {
	switch p {
	case PlatformLinux, PlatformWSL2:
		return []string{"systemd"}
	default:
		return nil
	}
}

// String returns a human-readable platform name
func (p Platform) String() string {
	switch p {
	case PlatformMacOS:
		return "macOS"
	case PlatformLinux:
		return "Linux"
	case PlatformWSL1:
		return "WSL1"
	case PlatformWSL2:
		return "WSL2"
	case PlatformWindows:
		return "Windows"
	default:
		return "Unknown"
	}
}

// CheckFsnotifySupport returns a warning when path lives on a filesystem
// where fsnotify events are missing or unreliable (9p, nfs, cifs, sshfs).
// An empty string means watching should work. The transcript watcher uses
// this to decide whether to rely on polling alone.
func CheckFsnotifySupport(path string) string {
	if runtime.GOOS != "linux" {
		return ""
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return ""
	}
	mounts, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return ""
	}
	return fsnotifyWarning(fsTypeFor(absPath, string(mounts)))
}

// fsTypeFor finds the filesystem type of the longest mount point containing
// path in /proc/mounts content.
func fsTypeFor(path, mounts string) string {
	var matchedMount, matchedType string
	for _, line := range strings.Split(mounts, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		mountPoint := fields[1]
		if !strings.HasPrefix(path, mountPoint) || len(mountPoint) <= len(matchedMount) {
			continue
		}
		matchedMount, matchedType = mountPoint, fields[2]
	}
	return matchedType
}

func fsnotifyWarning(fsType string) string {
	switch {
	case fsType == "9p":
		return "transcripts on 9p mount (WSL2 Windows filesystem): file events unavailable, relying on polling"
	case fsType == "nfs" || fsType == "nfs4":
		return "transcripts on NFS mount: file events may be unreliable, relying on polling"
	case fsType == "cifs" || fsType == "smbfs":
		return "transcripts on CIFS/SMB mount: file events may be unreliable, relying on polling"
	case strings.HasPrefix(fsType, "fuse.sshfs"):
		return "transcripts on SSHFS mount: file events unavailable, relying on polling"
	}
	return ""
}
