package execution

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conductor/agentrt/internal/database"
	"github.com/conductor/agentrt/internal/environment"
	"github.com/conductor/agentrt/pkg/log"
)

func newMapper(t *testing.T, projects ...string) (*InputMapper, *environment.ProjectPaths) {
	t.Helper()
	paths := environment.NewProjectPaths(t.TempDir(), "", projects)
	require.NoError(t, paths.EnsureDirs())
	return NewInputMapper(paths, nil, 5*time.Second, log.NewNop()), paths
}

func text(s string) database.InputPart {
	return database.InputPart{Type: database.InputPartText, Text: s}
}

func TestMap_Empty(t *testing.T) {
	m, _ := newMapper(t)
	p, err := m.Map(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, p.IsEmpty())
}

func TestMap_AllTextJoined(t *testing.T) {
	m, _ := newMapper(t)

	p, err := m.Map(context.Background(), []database.InputPart{text("first")})
	require.NoError(t, err)
	assert.Equal(t, "first", p.Text)

	p, err = m.Map(context.Background(), []database.InputPart{text("first"), text("second")})
	require.NoError(t, err)
	assert.Equal(t, "first\n\nsecond", p.Text)
	assert.Empty(t, p.Parts)
}

func TestMap_Validation(t *testing.T) {
	m, _ := newMapper(t, "main")

	tests := []database.InputPart{
		{Type: database.InputPartText},
		{Type: database.InputPartURL},
		{Type: database.InputPartFile},
		{Type: database.InputPartBinary},
		{Type: "video"},
		{Type: database.InputPartText, Text: "x", Mode: "stream"},
	}
	for _, part := range tests {
		_, err := m.Map(context.Background(), []database.InputPart{part})
		assert.ErrorIs(t, err, ErrInvalidInput, "part %+v", part)
	}
}

func TestMap_FileReference(t *testing.T) {
	m, _ := newMapper(t, "main", "lib")

	p, err := m.Map(context.Background(), []database.InputPart{
		text("look at this"),
		{Type: database.InputPartFile, Path: "./src/app.go"},
	})
	require.NoError(t, err)
	require.Len(t, p.Parts, 2)
	assert.Equal(t, "look at this", p.Parts[0].Text)
	assert.Equal(t, "[See file: /workspace/main/src/app.go]", p.Parts[1].Text)
}

func TestMap_FileWithoutProject(t *testing.T) {
	m, _ := newMapper(t)

	_, err := m.Map(context.Background(), []database.InputPart{
		{Type: database.InputPartFile, Path: "a.txt"},
	})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = m.Map(context.Background(), []database.InputPart{
		{Type: database.InputPartBinary, Data: base64.StdEncoding.EncodeToString([]byte("x"))},
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestMap_FileInline(t *testing.T) {
	m, paths := newMapper(t, "main")
	require.NoError(t, os.WriteFile(filepath.Join(paths.RealPath("main"), "notes.txt"), []byte("remember"), 0o644))

	p, err := m.Map(context.Background(), []database.InputPart{
		{Type: database.InputPartFile, Path: "notes.txt", Mode: database.ContentModeInline},
	})
	require.NoError(t, err)
	require.Len(t, p.Parts, 1)
	att := p.Parts[0].Attachment
	require.NotNil(t, att)
	assert.Equal(t, []byte("remember"), att.Data)
	assert.Equal(t, AttachmentDocument, att.Kind)

	_, err = m.Map(context.Background(), []database.InputPart{
		{Type: database.InputPartFile, Path: "missing.txt", Mode: database.ContentModeInline},
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestMap_BinaryToFile(t *testing.T) {
	m, paths := newMapper(t, "main")
	data := []byte{0x89, 0x50, 0x4e, 0x47}

	p, err := m.Map(context.Background(), []database.InputPart{
		{Type: database.InputPartBinary, Data: base64.StdEncoding.EncodeToString(data), MIME: "image/png"},
	})
	require.NoError(t, err)
	require.Len(t, p.Parts, 1)

	ref := p.Parts[0].Text
	require.True(t, strings.HasPrefix(ref, "[Binary file written: /workspace/main/.tmp/"), ref)
	assert.True(t, strings.HasSuffix(ref, ".png]"), ref)

	virtual := strings.TrimSuffix(strings.TrimPrefix(ref, "[Binary file written: "), "]")
	written, err := os.ReadFile(filepath.Join(paths.RealPath("main"), ".tmp", filepath.Base(virtual)))
	require.NoError(t, err)
	assert.Equal(t, data, written)
}

func TestMap_BinaryInline(t *testing.T) {
	m, _ := newMapper(t)

	p, err := m.Map(context.Background(), []database.InputPart{
		{Type: database.InputPartBinary, Data: base64.StdEncoding.EncodeToString([]byte("abc")), MIME: "audio/wav", Mode: database.ContentModeInline},
	})
	require.NoError(t, err)
	require.Len(t, p.Parts, 1)
	assert.Equal(t, &Attachment{Kind: AttachmentAudio, Data: []byte("abc"), MIME: "audio/wav"}, p.Parts[0].Attachment)

	_, err = m.Map(context.Background(), []database.InputPart{
		{Type: database.InputPartBinary, Data: "%%%", Mode: database.ContentModeInline},
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestMap_URLInline(t *testing.T) {
	m, _ := newMapper(t)

	p, err := m.Map(context.Background(), []database.InputPart{
		{Type: database.InputPartURL, URL: "https://example.com/cat.png", Mode: database.ContentModeInline},
		{Type: database.InputPartURL, URL: "https://example.com/report", Mode: database.ContentModeInline},
	})
	require.NoError(t, err)
	require.Len(t, p.Parts, 2)
	assert.Equal(t, AttachmentImage, p.Parts[0].Attachment.Kind)
	assert.Equal(t, AttachmentDocument, p.Parts[1].Attachment.Kind)
}

func TestMap_URLDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.txt" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	m, paths := newMapper(t, "main")

	p, err := m.Map(context.Background(), []database.InputPart{
		{Type: database.InputPartURL, URL: srv.URL + "/files/data.csv"},
		{Type: database.InputPartURL, URL: srv.URL + "/other/data.csv"},
	})
	require.NoError(t, err)
	require.Len(t, p.Parts, 2)
	assert.Equal(t, "[Downloaded file: /workspace/main/downloads/data.csv]", p.Parts[0].Text)
	assert.NotEqual(t, p.Parts[0].Text, p.Parts[1].Text)
	assert.True(t, strings.HasPrefix(p.Parts[1].Text, "[Downloaded file: /workspace/main/downloads/data-"))

	got, err := os.ReadFile(filepath.Join(paths.RealPath("main"), "downloads", "data.csv"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	_, err = m.Map(context.Background(), []database.InputPart{
		{Type: database.InputPartURL, URL: srv.URL + "/missing.txt"},
	})
	assert.Error(t, err)
	_, statErr := os.Stat(filepath.Join(paths.RealPath("main"), "downloads", "missing.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestClassifyMIME(t *testing.T) {
	tests := map[string]AttachmentKind{
		"image/jpeg":               AttachmentImage,
		"audio/mpeg":               AttachmentAudio,
		"video/mp4":                AttachmentVideo,
		"text/markdown":            AttachmentDocument,
		"application/pdf":          AttachmentDocument,
		"application/json; q=1":    AttachmentDocument,
		"application/octet-stream": AttachmentBinary,
		"":                         AttachmentBinary,
	}
	for mimeType, want := range tests {
		assert.Equal(t, want, classifyMIME(mimeType), mimeType)
	}
}

func TestPromptString(t *testing.T) {
	p := &Prompt{Parts: []PromptPart{
		{Text: "see"},
		{Attachment: &Attachment{Kind: AttachmentImage, URL: "https://x/y.png"}},
		{Attachment: &Attachment{Kind: AttachmentBinary, Data: []byte("abcd")}},
	}}
	assert.Equal(t, "see\n\n[Attached image: https://x/y.png]\n\n[Attached binary: 4 bytes]", p.String())
	assert.Equal(t, "", (*Prompt)(nil).String())
}
