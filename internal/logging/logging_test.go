package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sciber-ai/audiosync/internal/config"
)

func TestOpen_ConsoleOnly(t *testing.T) {
	var console bytes.Buffer
	out := open(config.LogConfig{}, &console)
	defer out.Close()

	out.Logger("worker").Println("hello")

	if !strings.Contains(console.String(), "[worker] ") || !strings.Contains(console.String(), "hello") {
		t.Errorf("console output = %q", console.String())
	}
	if err := out.Rotate(); err != nil {
		t.Errorf("Rotate() without a file failed: %v", err)
	}
}

func TestOpen_TeeToFile(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "audiosync.log")
	out := open(config.LogConfig{File: path, MaxSizeMB: 1}, &console)

	out.Logger("sweep").Println("sweep complete")
	if err := out.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "[sweep] ") {
		t.Errorf("file output = %q", data)
	}
	if !strings.Contains(console.String(), "sweep complete") {
		t.Errorf("console output = %q", console.String())
	}
}

func TestOpen_QuietWritesFileOnly(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "quiet.log")
	out := open(config.LogConfig{File: path, Quiet: true}, &console)

	out.Logger("reconciler").Println("watching")
	if err := out.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	if console.Len() != 0 {
		t.Errorf("quiet mode wrote to console: %q", console.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "watching") {
		t.Errorf("file output = %q", data)
	}
}
