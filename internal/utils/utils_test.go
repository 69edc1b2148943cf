package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "movie (2024).mkv", want: "movie 2024.mkv"},
		{in: "../../etc/passwd", want: "etcpasswd"},
		{in: "***", want: "download"},
		{in: "ok-name_1.zip", want: "ok-name_1.zip"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeName(tt.in))
		})
	}
}

func TestFileNameFromURL(t *testing.T) {
	assert.Equal(t, "file.iso", FileNameFromURL("https://example.com/a/b/file.iso?x=1"))
	assert.Equal(t, "my file.txt", FileNameFromURL("https://example.com/my%20file.txt"))
	assert.Equal(t, "example.com", FileNameFromURL("https://example.com/"))
}

func TestFormatSpeed(t *testing.T) {
	assert.Equal(t, "", FormatSpeed(0))
	assert.Equal(t, "512.0 B/s", FormatSpeed(512))
	assert.Equal(t, "2.0 KB/s", FormatSpeed(2048))
	assert.Equal(t, "1.5 MB/s", FormatSpeed(1.5*1024*1024))
}

func TestFormatETA(t *testing.T) {
	assert.Equal(t, "", FormatETA(-1))
	assert.Equal(t, "1m30s", FormatETA(90*time.Second+200*time.Millisecond))
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0, Percent(-0.5))
	assert.Equal(t, 50, Percent(0.5))
	assert.Equal(t, 100, Percent(1.7))
}
