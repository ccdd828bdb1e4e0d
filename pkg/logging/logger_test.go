// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"", LevelInfo},
		{" Warning ", LevelWarn},
		{"error", LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("verbose")
	assert.ErrorIs(t, err, ErrUnknownLevel)
}

func TestNew_TextToBuffer(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelWarn, Service: "lattice", Output: &buf})
	defer l.Close()

	l.Info("dropped")
	l.Warn("kept", "column", 7)

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "msg=kept")
	assert.Contains(t, out, "column=7")
	assert.Contains(t, out, "service=lattice")
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Format: FormatJSON, Output: &buf})
	l.With("cycle", 3).Info("tick")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "tick", rec["msg"])
	assert.EqualValues(t, 3, rec["cycle"])
}

func TestNew_AutoFormatOnNonTerminalFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "console")
	require.NoError(t, err)
	defer f.Close()

	New(Config{Output: f}).Info("auto")
	data, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(string(data)), "{"), "regular files get JSON")
}

func TestNew_LogDir(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	l := New(Config{LogDir: dir, Service: "engine", Output: &console})
	l.Info("to both", "k", "v")
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	name := filepath.Join(dir, "engine_"+time.Now().Format("2006-01-02")+".log")
	data, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"to both"`)
	assert.Contains(t, string(data), `"service":"engine"`)
	assert.Contains(t, console.String(), "to both")
}

func TestNew_QuietWithLogDir(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	l := New(Config{LogDir: dir, Quiet: true, Output: &console})
	defer l.Close()
	l.Info("file only")
	assert.Empty(t, console.String())
}

func TestNew_UnwritableLogDir(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	var console bytes.Buffer
	l := New(Config{LogDir: filepath.Join(blocker, "logs"), Output: &console})
	defer l.Close()
	assert.Contains(t, console.String(), "file logging disabled")
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".aleutian"), expandPath("~/.aleutian"))
	assert.Equal(t, "/var/log", expandPath("/var/log"))
}

func TestLogger_ConcurrentUse(t *testing.T) {
	l := New(Config{LogDir: t.TempDir(), Quiet: true})
	defer l.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.With("worker", i).Info("tick", "j", j)
			}
		}(i)
	}
	wg.Wait()
}

func TestDiscard(t *testing.T) {
	Discard().Error("nothing happens")
}
