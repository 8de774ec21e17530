package execution

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/conductor/agentrt/internal/database"
	"github.com/conductor/agentrt/internal/environment"
	"github.com/conductor/agentrt/pkg/log"
)

// ErrInvalidInput is returned for input parts that cannot be mapped.
var ErrInvalidInput = errors.New("invalid input")

const (
	downloadsDir = "downloads"
	tmpDir       = ".tmp"
)

// AttachmentKind classifies inline content by MIME type.
type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentAudio    AttachmentKind = "audio"
	AttachmentVideo    AttachmentKind = "video"
	AttachmentDocument AttachmentKind = "document"
	AttachmentBinary   AttachmentKind = "binary"
)

// Attachment is content passed to the model directly. Exactly one of URL and
// Data is set.
type Attachment struct {
	Kind AttachmentKind `json:"kind"`
	URL  string         `json:"url,omitempty"`
	Data []byte         `json:"data,omitempty"`
	MIME string         `json:"mime,omitempty"`
}

// PromptPart is one element of a multimodal prompt.
type PromptPart struct {
	Text       string      `json:"text,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// Prompt is the user prompt handed to a Runtime. All-text input is a single
// Text; anything else is a list of Parts.
type Prompt struct {
	Text  string       `json:"text,omitempty"`
	Parts []PromptPart `json:"parts,omitempty"`
}

// IsEmpty reports whether the prompt carries nothing.
func (p *Prompt) IsEmpty() bool {
	return p == nil || (p.Text == "" && len(p.Parts) == 0)
}

// String flattens the prompt to text. Attachments are shown as markers.
func (p *Prompt) String() string {
	if p == nil {
		return ""
	}
	if len(p.Parts) == 0 {
		return p.Text
	}
	lines := make([]string, 0, len(p.Parts))
	for _, part := range p.Parts {
		if part.Attachment == nil {
			lines = append(lines, part.Text)
			continue
		}
		ref := part.Attachment.URL
		if ref == "" {
			ref = fmt.Sprintf("%d bytes", len(part.Attachment.Data))
		}
		lines = append(lines, fmt.Sprintf("[Attached %s: %s]", part.Attachment.Kind, ref))
	}
	return strings.Join(lines, "\n\n")
}

// InputMapper turns session input parts into a Prompt. File-mode parts are
// materialized inside the default project and referenced by virtual path.
type InputMapper struct {
	paths  *environment.ProjectPaths
	client *http.Client
	logger log.Logger
}

// NewInputMapper creates an InputMapper. paths may be nil when the execution
// has no projects; client may be nil to use a client with downloadTimeout.
func NewInputMapper(paths *environment.ProjectPaths, client *http.Client, downloadTimeout time.Duration, logger log.Logger) *InputMapper {
	if client == nil {
		client = &http.Client{Timeout: downloadTimeout}
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &InputMapper{paths: paths, client: client, logger: logger}
}

// Map converts parts into a Prompt.
func (m *InputMapper) Map(ctx context.Context, parts []database.InputPart) (*Prompt, error) {
	if len(parts) == 0 {
		return &Prompt{}, nil
	}
	for i, part := range parts {
		if err := validatePart(part); err != nil {
			return nil, fmt.Errorf("%w: part %d: %v", ErrInvalidInput, i, err)
		}
	}

	allText := true
	for _, part := range parts {
		if part.Type != database.InputPartText {
			allText = false
			break
		}
	}
	if allText {
		texts := make([]string, len(parts))
		for i, part := range parts {
			texts[i] = part.Text
		}
		return &Prompt{Text: strings.Join(texts, "\n\n")}, nil
	}

	prompt := &Prompt{Parts: make([]PromptPart, 0, len(parts))}
	for i, part := range parts {
		mapped, err := m.mapPart(ctx, part)
		if err != nil {
			return nil, fmt.Errorf("failed to map input part %d: %w", i, err)
		}
		prompt.Parts = append(prompt.Parts, mapped)
	}
	return prompt, nil
}

func validatePart(p database.InputPart) error {
	switch p.Type {
	case database.InputPartText:
		if p.Text == "" {
			return errors.New("text is required for a text part")
		}
	case database.InputPartURL:
		if p.URL == "" {
			return errors.New("url is required for a url part")
		}
	case database.InputPartFile:
		if p.Path == "" {
			return errors.New("path is required for a file part")
		}
	case database.InputPartBinary:
		if p.Data == "" {
			return errors.New("data is required for a binary part")
		}
	default:
		return fmt.Errorf("unknown part type %q", p.Type)
	}
	switch p.Mode {
	case "", database.ContentModeFile, database.ContentModeInline:
		return nil
	default:
		return fmt.Errorf("unknown content mode %q", p.Mode)
	}
}

func (m *InputMapper) mapPart(ctx context.Context, p database.InputPart) (PromptPart, error) {
	inline := p.Mode == database.ContentModeInline

	switch p.Type {
	case database.InputPartText:
		return PromptPart{Text: p.Text}, nil

	case database.InputPartURL:
		if inline {
			mimeType := p.MIME
			if mimeType == "" {
				mimeType = mime.TypeByExtension(path.Ext(urlPath(p.URL)))
			}
			kind := classifyMIME(mimeType)
			if kind == AttachmentBinary {
				kind = AttachmentDocument
			}
			return PromptPart{Attachment: &Attachment{Kind: kind, URL: p.URL, MIME: mimeType}}, nil
		}
		virtual, err := m.download(ctx, p.URL)
		if err != nil {
			return PromptPart{}, err
		}
		return PromptPart{Text: fmt.Sprintf("[Downloaded file: %s]", virtual)}, nil

	case database.InputPartFile:
		realPath, virtual, err := m.resolveFile(p.Path)
		if err != nil {
			return PromptPart{}, err
		}
		if !inline {
			return PromptPart{Text: fmt.Sprintf("[See file: %s]", virtual)}, nil
		}
		data, err := os.ReadFile(realPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return PromptPart{}, fmt.Errorf("%w: file not found: %s", ErrInvalidInput, p.Path)
			}
			return PromptPart{}, fmt.Errorf("failed to read %s: %w", p.Path, err)
		}
		mimeType := p.MIME
		if mimeType == "" {
			mimeType = mime.TypeByExtension(filepath.Ext(realPath))
		}
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		return PromptPart{Attachment: &Attachment{Kind: classifyMIME(mimeType), Data: data, MIME: mimeType}}, nil

	case database.InputPartBinary:
		data, err := base64.StdEncoding.DecodeString(p.Data)
		if err != nil {
			return PromptPart{}, fmt.Errorf("%w: binary data is not valid base64: %v", ErrInvalidInput, err)
		}
		mimeType := p.MIME
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		if inline {
			return PromptPart{Attachment: &Attachment{Kind: classifyMIME(mimeType), Data: data, MIME: mimeType}}, nil
		}
		virtual, err := m.writeBinary(data, mimeType)
		if err != nil {
			return PromptPart{}, err
		}
		return PromptPart{Text: fmt.Sprintf("[Binary file written: %s]", virtual)}, nil
	}

	return PromptPart{}, fmt.Errorf("%w: unknown part type %q", ErrInvalidInput, p.Type)
}

func (m *InputMapper) projectDir(sub string) (string, string, error) {
	if m.paths == nil || !m.paths.HasProjects() {
		return "", "", fmt.Errorf("%w: file mode input requires a project", ErrInvalidInput)
	}
	realRoot, _ := m.paths.DefaultRealPath()
	virtualRoot, _ := m.paths.DefaultVirtualPath()
	dir := filepath.Join(realRoot, sub)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return dir, path.Join(virtualRoot, sub), nil
}

func (m *InputMapper) resolveFile(rel string) (string, string, error) {
	if m.paths == nil || !m.paths.HasProjects() {
		return "", "", fmt.Errorf("%w: file input requires a project", ErrInvalidInput)
	}
	realPath, virtual, err := m.paths.ResolveInProject(rel)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return realPath, virtual, nil
}

func (m *InputMapper) download(ctx context.Context, rawURL string) (string, error) {
	dir, virtualDir, err := m.projectDir(downloadsDir)
	if err != nil {
		return "", err
	}

	name := path.Base(urlPath(rawURL))
	if name == "" || name == "." || name == "/" {
		name = "download-" + shortID(8)
	}
	target := filepath.Join(dir, name)
	if _, err := os.Stat(target); err == nil {
		ext := filepath.Ext(name)
		name = strings.TrimSuffix(name, ext) + "-" + shortID(8) + ext
		target = filepath.Join(dir, name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: bad url %q: %v", ErrInvalidInput, rawURL, err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("failed to download %s: status %d", rawURL, resp.StatusCode)
	}

	if err := writeFile(target, resp.Body); err != nil {
		return "", err
	}

	virtual := path.Join(virtualDir, name)
	m.logger.Debug().Str("url", rawURL).Str("path", virtual).Msg("downloaded input file")
	return virtual, nil
}

func (m *InputMapper) writeBinary(data []byte, mimeType string) (string, error) {
	dir, virtualDir, err := m.projectDir(tmpDir)
	if err != nil {
		return "", err
	}

	ext := ".bin"
	if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
		ext = exts[0]
	}
	name := shortID(12) + ext
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write binary input: %w", err)
	}

	virtual := path.Join(virtualDir, name)
	m.logger.Debug().Str("mime", mimeType).Int("bytes", len(data)).Str("path", virtual).Msg("wrote binary input")
	return virtual, nil
}

func writeFile(target string, r io.Reader) (err error) {
	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(target)
		}
	}()
	if _, err = io.Copy(f, r); err != nil {
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	return nil
}

func classifyMIME(mimeType string) AttachmentKind {
	base, _, _ := strings.Cut(strings.ToLower(mimeType), ";")
	base = strings.TrimSpace(base)
	switch {
	case base == "":
		return AttachmentBinary
	case strings.HasPrefix(base, "image/"):
		return AttachmentImage
	case strings.HasPrefix(base, "audio/"):
		return AttachmentAudio
	case strings.HasPrefix(base, "video/"):
		return AttachmentVideo
	case strings.HasPrefix(base, "text/"), base == "application/pdf", base == "application/json":
		return AttachmentDocument
	default:
		return AttachmentBinary
	}
}

func urlPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Path
}

func shortID(n int) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return id[:n]
}
