// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in   string
		want Severity
	}{
		{"verbose", SeverityVerbose},
		{"debug", SeverityDebug},
		{"info", SeverityInfo},
		{"warn", SeverityWarning},
		{"warning", SeverityWarning},
		{"error", SeverityError},
		{"fatal", SeverityFatal},
		{"", SeverityNone},
		{"bogus", SeverityInfo},
		{"ERROR", SeverityError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseSeverity(tt.in), "input %q", tt.in)
	}
}

func TestSeverityOrdering(t *testing.T) {
	assert.Less(t, SeverityVerbose.Level(), SeverityDebug.Level())
	assert.Less(t, SeverityDebug.Level(), SeverityInfo.Level())
	assert.Less(t, SeverityInfo.Level(), SeverityWarning.Level())
	assert.Less(t, SeverityWarning.Level(), SeverityError.Level())
	assert.Less(t, SeverityError.Level(), SeverityFatal.Level())
}

func TestSetupAddsServiceAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("plugify", "1.2.3", "json", SeverityInfo, &buf)

	logger.Info("hello")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "plugify", record["service"])
	assert.Equal(t, "1.2.3", record["version"])
	assert.Equal(t, "hello", record["msg"])
}

func TestSetupFiltersBelowMinimum(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("plugify", "dev", "json", SeverityWarning, &buf)

	logger.Info("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn("kept")
	assert.NotZero(t, buf.Len())
}

func TestLogMapsSeverity(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("plugify", "dev", "json", SeverityVerbose, &buf)

	Log(logger, SeverityFatal, "boom", slog.String("plugin", "a"))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "boom", record["msg"])
	assert.Equal(t, "a", record["plugin"])
}
