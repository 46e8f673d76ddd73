package sqlite

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lexvault/internal/domain"
	"lexvault/internal/security"
)

func TestExporter_ScenarioDecryptsCaseDescription(t *testing.T) {
	s := newTestStore(t)
	enc := newTestEncryptor(t)
	u := seedUser(t, s, enc, "alice")

	out, err := NewExporter(s, enc).ExportAllUserData(context.Background(), u.UserID, domain.ExportOptions{})
	require.NoError(t, err)

	cases := out.UserData["cases"]
	require.Equal(t, 1, cases.Count)
	assert.Equal(t, seedCaseDescription, cases.Records[0]["description"])
	assert.Equal(t, seedMessage, out.UserData["chat_messages"].Records[0]["content"])
	assert.Equal(t, seedNote, out.UserData["notes"].Records[0]["content"])
	assert.Empty(t, out.Metadata.DecryptionFailures)
}

func TestExporter_PlaintextPassesThrough(t *testing.T) {
	s := newTestStore(t)
	u := seedUser(t, s, newTestEncryptor(t), "alice")

	out, err := NewExporter(s, newTestEncryptor(t)).ExportAllUserData(context.Background(), u.UserID, domain.ExportOptions{})
	require.NoError(t, err)

	assert.Equal(t, "Was the deposit protected?", out.UserData["legal_issues"].Records[0]["description"])
	var contents []any
	for _, r := range out.UserData["evidence"].Records {
		contents = append(contents, r["content"])
	}
	assert.Contains(t, contents, "move-out photos")
	assert.Contains(t, contents, "Clause 4.2 deposit terms")
}

func TestExporter_MetadataAndCounts(t *testing.T) {
	s := newTestStore(t)
	u := seedUser(t, s, newTestEncryptor(t), "alice")
	seedUser(t, s, newTestEncryptor(t), "bob")

	exp := NewExporter(s, newTestEncryptor(t))
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	exp.now = func() time.Time { return fixed }

	out, err := exp.ExportAllUserData(context.Background(), u.UserID, domain.ExportOptions{})
	require.NoError(t, err)

	assert.Equal(t, fixed, out.Metadata.ExportDate)
	assert.Equal(t, u.UserID, out.Metadata.UserID)
	assert.Equal(t, "1", out.Metadata.SchemaVersion)
	assert.Equal(t, domain.FormatJSON, out.Metadata.Format)

	assert.ElementsMatch(t, ExportSectionKeys(), keysOf(out.UserData))
	total := 0
	for key, tbl := range out.UserData {
		assert.Len(t, tbl.Records, tbl.Count, key)
		total += tbl.Count
	}
	assert.Equal(t, total, out.Metadata.TotalRecords)
	// One row per section plus the second evidence row.
	assert.Equal(t, len(ExportSectionKeys())+1, total)
}

func TestExporter_ProfileOmitsCredentials(t *testing.T) {
	s := newTestStore(t)
	u := seedUser(t, s, newTestEncryptor(t), "alice")

	out, err := NewExporter(s, newTestEncryptor(t)).ExportAllUserData(context.Background(), u.UserID, domain.ExportOptions{})
	require.NoError(t, err)

	profile := out.UserData["profile"].Records[0]
	assert.Equal(t, "alice", profile["username"])
	assert.Equal(t, "alice@example.com", profile["email"])
	assert.NotContains(t, profile, "password_hash")
	assert.NotContains(t, profile, "password_salt")

	session := out.UserData["sessions"].Records[0]
	assert.NotContains(t, session, "id")
}

func TestExporter_DecryptionFailureReported(t *testing.T) {
	s := newTestStore(t)
	u := seedUser(t, s, newTestEncryptor(t), "alice")

	other, err := security.NewAESEnvelopeEncryptor(bytes.Repeat([]byte{0x17}, 32))
	require.NoError(t, err)

	out, err := NewExporter(s, other).ExportAllUserData(context.Background(), u.UserID, domain.ExportOptions{})
	require.NoError(t, err)

	desc, ok := out.UserData["cases"].Records[0]["description"].(string)
	require.True(t, ok)
	_, isEnvelope := security.ParseEnvelope(desc)
	assert.True(t, isEnvelope, "undecryptable value is exported as stored")

	assert.Contains(t, out.Metadata.DecryptionFailures, domain.DecryptionFailure{
		Table: "cases", RecordID: u.CaseID, Field: "description",
	})
	// Plaintext fields are not failures.
	for _, f := range out.Metadata.DecryptionFailures {
		assert.NotEqual(t, "legal_issues", f.Table)
	}
}

func TestExporter_UnknownUserIsEmpty(t *testing.T) {
	s := newTestStore(t)
	seedUser(t, s, newTestEncryptor(t), "alice")

	out, err := NewExporter(s, newTestEncryptor(t)).ExportAllUserData(context.Background(), 999, domain.ExportOptions{Format: domain.FormatYAML})
	require.NoError(t, err)
	assert.Zero(t, out.Metadata.TotalRecords)
	assert.Equal(t, domain.FormatYAML, out.Metadata.Format)
	for key, tbl := range out.UserData {
		assert.NotNil(t, tbl.Records, key)
		assert.Zero(t, tbl.Count, key)
	}
}

func TestExporter_OrderedNewestFirst(t *testing.T) {
	s := newTestStore(t)
	u := seedUser(t, s, newTestEncryptor(t), "alice")
	mustExec(t, s, `INSERT INTO timeline_events (case_id, event_date, title) VALUES (?, '2026-02-01', 'Letter sent')`, u.CaseID)
	mustExec(t, s, `INSERT INTO timeline_events (case_id, event_date, title) VALUES (?, '2025-12-01', 'Moved in')`, u.CaseID)

	out, err := NewExporter(s, newTestEncryptor(t)).ExportAllUserData(context.Background(), u.UserID, domain.ExportOptions{})
	require.NoError(t, err)

	var titles []any
	for _, r := range out.UserData["timeline_events"].Records {
		titles = append(titles, r["title"])
	}
	assert.Equal(t, []any{"Letter sent", "Moved out", "Moved in"}, titles)
}

func TestExporter_SessionTiesNewestInsertFirst(t *testing.T) {
	s := newTestStore(t)
	u := seedUser(t, s, newTestEncryptor(t), "alice")
	for _, agent := range []string{"first", "second", "third"} {
		mustExec(t, s, `INSERT INTO sessions (id, user_id, expires_at, user_agent, created_at)
			VALUES (?, ?, '2099-01-02 00:00:00', ?, '2099-01-01 00:00:00')`, "tok-"+agent, u.UserID, agent)
	}

	for i := 0; i < 3; i++ {
		out, err := NewExporter(s, nil).ExportAllUserData(context.Background(), u.UserID, domain.ExportOptions{})
		require.NoError(t, err)
		recs := out.UserData["sessions"].Records
		require.Len(t, recs, 4)
		assert.Equal(t, []any{"third", "second", "first"},
			[]any{recs[0]["user_agent"], recs[1]["user_agent"], recs[2]["user_agent"]})
	}
}

func TestExporter_StorageErrorPropagates(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())

	_, err := NewExporter(s, nil).ExportAllUserData(context.Background(), 1, domain.ExportOptions{})
	assert.ErrorIs(t, err, domain.ErrStorage)
}

func keysOf(m map[string]*domain.TableExport) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
