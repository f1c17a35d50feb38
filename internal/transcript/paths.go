package transcript

import "strings"

// EncodeProjectDir maps a working directory to the directory name Claude
// uses under ~/.claude/projects: every byte outside [A-Za-z0-9-] becomes "-".
// "/Users/me/app/.wt/x" encodes as "-Users-me-app--wt-x".
func EncodeProjectDir(cwd string) string {
	var b strings.Builder
	b.Grow(len(cwd))
	for _, r := range cwd {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

// DecodeProjectDir is a best-effort inverse of EncodeProjectDir. The encoding
// is lossy, so this is only used to find a candidate directory when the
// exact encoding has no match. Paths under a "Projects" or "UnityProjects"
// folder keep dashes in the project name, and "--" opens a hidden folder
// whose following segments are subfolders.
func DecodeProjectDir(name string) string {
	name = strings.TrimPrefix(name, "-")
	if name == "" {
		return ""
	}
	parts := strings.Split(name, "-")

	idx := -1
	for i, p := range parts {
		if p == "Projects" || p == "UnityProjects" {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "/" + strings.ReplaceAll(name, "-", "/")
	}

	path := "/" + strings.Join(parts[:idx+1], "/")
	rest := parts[idx+1:]
	if len(rest) == 0 {
		return path
	}

	var (
		segments []string
		current  string
		hidden   bool
	)
	for _, part := range rest {
		switch {
		case part == "":
			if current != "" {
				segments = append(segments, current)
				current = ""
			}
			hidden = true
		case hidden:
			if current == "" {
				current = "." + part
			} else {
				segments = append(segments, current)
				current = part
			}
		case current == "":
			current = part
		default:
			current += "-" + part
		}
	}
	if current != "" {
		segments = append(segments, current)
	}
	return path + "/" + strings.Join(segments, "/")
}
