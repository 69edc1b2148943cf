package utils

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"
)

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9-_. ]`)

// SanitizeName strips characters that are unsafe in file names.
func SanitizeName(name string) string {
	name = unsafeName.ReplaceAllString(name, "")
	name = strings.Trim(name, ". ")
	if name == "" {
		return "download"
	}
	return name
}

// FileNameFromURL returns the last path segment of link, or its host when
// the path is empty.
func FileNameFromURL(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return SanitizeName(link)
	}
	if base := path.Base(u.Path); base != "." && base != "/" && base != "" {
		if unescaped, err := url.PathUnescape(base); err == nil {
			base = unescaped
		}
		return SanitizeName(base)
	}
	return SanitizeName(u.Hostname())
}

func FormatSpeed(bps float64) string {
	switch {
	case bps <= 0:
		return ""
	case bps >= 1024*1024:
		return fmt.Sprintf("%.1f MB/s", bps/(1024*1024))
	case bps >= 1024:
		return fmt.Sprintf("%.1f KB/s", bps/1024)
	default:
		return fmt.Sprintf("%.1f B/s", bps)
	}
}

// FormatETA renders a remaining duration rounded to seconds. Negative
// durations are unknown and render empty.
func FormatETA(d time.Duration) string {
	if d < 0 {
		return ""
	}
	return d.Round(time.Second).String()
}

// Percent returns done/total as a whole percentage in [0, 100].
func Percent(ratio float64) int {
	switch {
	case ratio <= 0:
		return 0
	case ratio >= 1:
		return 100
	default:
		return int(ratio * 100)
	}
}
