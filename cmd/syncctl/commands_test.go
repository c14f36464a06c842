package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/DanielPopoola/openbanking-sync/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTable(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	item := domain.NewWorkItem("acc-1", domain.KindAccount, "bank-a", now)
	require.NoError(t, item.MarkProcessing(now))
	require.NoError(t, item.RecordFailure(&domain.CircuitOpenError{Participant: "bank-a"}, now, 3, time.Hour))

	var buf bytes.Buffer
	require.NoError(t, writeTable(&buf, []*domain.WorkItem{item}))

	out := buf.String()
	assert.Contains(t, out, "RETRYING")
	assert.Contains(t, out, "2026-03-01T09:02:00Z")
	assert.Contains(t, out, "circuit open for participant bank-a")
}

func TestPrintItems_JSON(t *testing.T) {
	cmd := statusCmd()
	cmd.Flags().Bool("json", true, "")
	var buf bytes.Buffer
	cmd.SetOut(&buf)

	item := domain.NewWorkItem("consent-1", domain.KindConsent, "bank-a", time.Now())
	require.NoError(t, printItems(cmd, item))

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "consent-1", decoded[0]["SubjectID"])
}
