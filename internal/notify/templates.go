package notify

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"sync"

	"github.com/accountd/apiserver/internal/storage"
)

//go:embed templates/*.html
var defaultTemplates embed.FS

const overridePrefix = "templates/"

var subjects = map[Kind]string{
	KindVerification: "Verify your email",
	KindWelcome:      "Welcome to accountd",
	KindResetRequest: "Reset your password",
	KindResetSuccess: "Password Reset Successful",
}

// TemplateSource loads template overrides by object key. A missing override
// is reported as storage.ErrNotFound.
type TemplateSource interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// Templates renders notification bodies. Overrides named templates/<kind>.html
// in the source take precedence over the built-in templates.
//
// A kind is cached once its override is known: loaded, or definitely absent.
// When the source fails for any other reason the built-in template is used
// for that render only, and the override is tried again next time.
type Templates struct {
	source TemplateSource

	mu    sync.RWMutex
	cache map[Kind]*template.Template
}

// NewTemplates returns a renderer. source may be nil.
func NewTemplates(source TemplateSource) *Templates {
	return &Templates{
		source: source,
		cache:  make(map[Kind]*template.Template),
	}
}

// Render returns the subject and HTML body for n. Failures that no retry
// can fix wrap ErrUndeliverable.
func (t *Templates) Render(ctx context.Context, n Notification) (string, string, error) {
	subject, ok := subjects[n.Kind]
	if !ok {
		return "", "", fmt.Errorf("%w: unknown notification kind %q", ErrUndeliverable, n.Kind)
	}

	tmpl, err := t.lookup(ctx, n.Kind)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, n); err != nil {
		return "", "", fmt.Errorf("%w: render %s template: %s", ErrUndeliverable, n.Kind, err)
	}
	return subject, buf.String(), nil
}

func (t *Templates) lookup(ctx context.Context, kind Kind) (*template.Template, error) {
	t.mu.RLock()
	tmpl, ok := t.cache[kind]
	t.mu.RUnlock()
	if ok {
		return tmpl, nil
	}

	name := string(kind) + ".html"
	tmpl, settled := t.loadOverride(ctx, kind, name)
	if tmpl == nil {
		var err error
		tmpl, err = builtinTemplate(kind, name)
		if err != nil {
			return nil, err
		}
	}

	if settled {
		t.mu.Lock()
		t.cache[kind] = tmpl
		t.mu.Unlock()
	}
	return tmpl, nil
}

// loadOverride fetches and parses the override for kind. It returns a nil
// template when the built-in one should be used, and settled=false when that
// decision came from a failure that may not repeat.
func (t *Templates) loadOverride(ctx context.Context, kind Kind, name string) (*template.Template, bool) {
	if t.source == nil {
		return nil, true
	}

	rc, err := t.source.Get(ctx, overridePrefix+name)
	if err != nil {
		return nil, errors.Is(err, storage.ErrNotFound)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, false
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, true
	}

	tmpl, err := template.New(name).Parse(string(raw))
	if err != nil {
		// A broken override is not cached so that fixing it takes effect.
		return nil, false
	}
	return tmpl, true
}

func builtinTemplate(kind Kind, name string) (*template.Template, error) {
	raw, err := defaultTemplates.ReadFile("templates/" + name)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s template: %s", ErrUndeliverable, kind, err)
	}
	tmpl, err := template.New(name).Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s template: %s", ErrUndeliverable, kind, err)
	}
	return tmpl, nil
}

// OverrideKey returns the object key whose content replaces the built-in
// template for kind.
func OverrideKey(kind Kind) (string, error) {
	if _, ok := subjects[kind]; !ok {
		return "", fmt.Errorf("unknown notification kind %q", kind)
	}
	return overridePrefix + string(kind) + ".html", nil
}

// CheckOverride parses raw as a template for kind and renders it against a
// sample notification, so a broken override is rejected before upload.
func CheckOverride(kind Kind, raw []byte) error {
	if _, err := OverrideKey(kind); err != nil {
		return err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("%s template is empty", kind)
	}
	tmpl, err := template.New(string(kind)).Parse(string(raw))
	if err != nil {
		return fmt.Errorf("parse %s template: %w", kind, err)
	}
	sample := Notification{
		Kind:     kind,
		To:       "user@example.com",
		Name:     "Sample User",
		Code:     "123456",
		ResetURL: "https://example.com/reset-password/token",
	}
	if err := tmpl.Execute(io.Discard, sample); err != nil {
		return fmt.Errorf("render %s template: %w", kind, err)
	}
	return nil
}
