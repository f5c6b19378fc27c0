// Package transport provides a ready-made UploadFunc that POSTs files as
// multipart/form-data. Failures are classified for the queue: 4xx rejections
// are permanent, network errors and 408/429/5xx responses are transient.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/h2non/filetype"
	"github.com/vfaronov/httpheader"

	"github.com/labhub/uploadq/internal/queue"
)

// DefaultFieldName is the multipart form field files are posted under.
const DefaultFieldName = "file"

// sniffLen is how many leading bytes filetype needs to identify a payload.
const sniffLen = 261

// Option configures an Uploader.
type Option func(*Uploader)

// WithClient replaces the default http.Client.
func WithClient(c *http.Client) Option {
	return func(u *Uploader) {
		if c != nil {
			u.client = c
		}
	}
}

// WithFieldName sets the multipart form field name.
func WithFieldName(name string) Option {
	return func(u *Uploader) {
		if name != "" {
			u.field = name
		}
	}
}

// WithHeader adds a header to every upload request.
func WithHeader(key, value string) Option {
	return func(u *Uploader) {
		u.header.Add(key, value)
	}
}

// Uploader posts files to a fixed endpoint. Its Upload method satisfies
// queue.UploadFunc.
type Uploader struct {
	endpoint string
	field    string
	client   *http.Client
	header   http.Header
}

// New builds an Uploader for the given endpoint URL.
func New(endpoint string, opts ...Option) *Uploader {
	u := &Uploader{
		endpoint: endpoint,
		field:    DefaultFieldName,
		client:   http.DefaultClient,
		header:   make(http.Header),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upload performs one transfer attempt. Progress is reported as the request
// body is consumed, so it reflects bytes handed to the connection.
func (u *Uploader) Upload(ctx context.Context, f queue.File, progress func(pct int)) error {
	if f.Open == nil {
		return backoff.Permanent(fmt.Errorf("file %q has no content", f.Name))
	}
	rc, err := f.Open()
	if err != nil {
		// Unreadable content will not get better on retry.
		return backoff.Permanent(fmt.Errorf("open %s: %w", f.Name, err))
	}
	defer rc.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(rc, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return backoff.Permanent(fmt.Errorf("read %s: %w", f.Name, err))
	}
	head = head[:n]

	content := &progressReader{
		r:      io.MultiReader(bytes.NewReader(head), rc),
		total:  f.Size,
		report: progress,
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreatePart(partHeader(u.field, f.Name, detectContentType(f.Name, head)))
		if err == nil {
			_, err = io.Copy(part, content)
		}
		if cerr := mw.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, pr)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	for key, values := range u.header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := u.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("upload %s: %w", f.Name, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body) // Drain any remaining data
		resp.Body.Close()
	}()

	return classifyStatus(resp, f.Name, progress)
}

// classifyStatus turns the response into the queue's failure taxonomy.
func classifyStatus(resp *http.Response, name string, progress func(pct int)) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if progress != nil {
			progress(100)
		}
		return nil

	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		if ra := httpheader.RetryAfter(resp.Header); !ra.IsZero() {
			return fmt.Errorf("upload %s: %s (retry after %s)", name, resp.Status, time.Until(ra).Round(time.Second))
		}
		return fmt.Errorf("upload %s: %s", name, resp.Status)

	default:
		return backoff.Permanent(fmt.Errorf("upload %s rejected: %s", name, resp.Status))
	}
}

// detectContentType sniffs magic bytes first and falls back to the filename
// extension.
func detectContentType(name string, head []byte) string {
	if kind, err := filetype.Match(head); err == nil && kind != filetype.Unknown {
		return kind.MIME.Value
	}
	if ctype := mime.TypeByExtension(filepath.Ext(name)); ctype != "" {
		return ctype
	}
	return "application/octet-stream"
}

func partHeader(field, filename, contentType string) textproto.MIMEHeader {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="%s"; filename="%s"`, escapeQuotes(field), escapeQuotes(filename)))
	h.Set("Content-Type", contentType)
	return h
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// progressReader reports percent progress as the body is read.
type progressReader struct {
	r       io.Reader
	total   int64
	read    int64
	lastPct int
	report  func(pct int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.total > 0 && p.report != nil {
		pct := int(p.read * 100 / p.total)
		if pct > 100 {
			pct = 100
		}
		if pct > p.lastPct {
			p.lastPct = pct
			p.report(pct)
		}
	}
	return n, err
}
