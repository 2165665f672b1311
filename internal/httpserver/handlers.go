package httpserver

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"
	"golang.org/x/crypto/blake2b"

	"pbserver/internal/metrics"
	"pbserver/internal/paste"
	"pbserver/internal/storage"
	"pbserver/internal/throttle"
)

const (
	bodyThrottled   = "Forbidden: reached maximum service quotas. Try again later.\r\n"
	bodyUnavailable = "Service temporarily unavailable. Try again later.\r\n"
	bodyInternal    = "Internal server error.\r\n"
	bodyUsage       = "Use: xpbpaste <pbid>\r\n"
)

type indexPageData struct {
	URL   string
	Limit string
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if !strings.Contains(r.Header.Get("Accept"), "text/html") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, bodyUsage)
		return
	}
	s.render(w, http.StatusOK, "index", indexPageData{
		URL:   s.siteURL(r),
		Limit: s.limitText(),
	})
}

func (s *Server) handleBashProfile(w http.ResponseWriter, r *http.Request) {
	buf := &bytes.Buffer{}
	if err := s.bashProfile.Execute(buf, struct{ URL string }{URL: s.siteURL(r)}); err != nil {
		s.handleTemplateError(w, "bash_profile", err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	// Refuse declared oversize bodies without reading them.
	if r.ContentLength > s.maxBytes {
		s.fail(w, "write", start, &paste.TooLargeError{Size: r.ContentLength, Max: s.maxBytes})
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBytes+1))
	if err != nil {
		s.fail(w, "write", start, fmt.Errorf("read body: %w", err))
		return
	}

	encoded, err := s.pastes.Put(r.Context(), s.clientAddr(r), body)
	if err != nil {
		s.fail(w, "write", start, err)
		return
	}
	s.metrics.Observe("write", metrics.OK, time.Since(start))
	_, _ = io.WriteString(w, "xpbpaste "+encoded+"\r\n")
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	body, err := s.pastes.Get(r.Context(), s.clientAddr(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "read", start, err)
		return
	}

	etag := etagFor(body)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		s.metrics.Observe("read", metrics.NotModified, time.Since(start))
		w.WriteHeader(http.StatusNotModified)
		return
	}

	s.metrics.Observe("read", metrics.OK, time.Since(start))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "private, max-age=60")
	w.Header().Set("ETag", etag)
	_, _ = w.Write(body)
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := chi.URLParam(r, "id")
	if _, err := s.pastes.Get(r.Context(), s.clientAddr(r), id); err != nil {
		s.fail(w, "qr", start, err)
		return
	}

	png, err := qrcode.Encode(s.canonicalURL(r, id), qrcode.Medium, 256)
	if err != nil {
		s.fail(w, "qr", start, err)
		return
	}
	s.metrics.Observe("qr", metrics.OK, time.Since(start))
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

// fail maps err to a status and plain-text body, records it and logs what
// operators need to see.
func (s *Server) fail(w http.ResponseWriter, op string, start time.Time, err error) {
	var tooLarge *paste.TooLargeError
	switch {
	case errors.As(err, &tooLarge):
		s.metrics.Observe(op, metrics.TooLarge, time.Since(start))
		s.plainError(w, http.StatusBadRequest, fmt.Sprintf("Bad request: text too large (%d bytes)\r\n", tooLarge.Size))
	case errors.Is(err, throttle.ErrExceeded):
		s.metrics.Observe(op, metrics.Throttled, time.Since(start))
		s.logger.Warn("throttled", "op", op, "error", err)
		s.plainError(w, http.StatusForbidden, bodyThrottled)
	case errors.Is(err, paste.ErrNotFound):
		s.metrics.Observe(op, metrics.NotFound, time.Since(start))
		w.WriteHeader(http.StatusNotFound)
	case errors.Is(err, storage.ErrUnavailable):
		s.metrics.Observe(op, metrics.Unavailable, time.Since(start))
		s.storeErrLog.Do(func() {
			s.logger.Error("store failed", "op", op, "error", err)
		})
		s.plainError(w, http.StatusServiceUnavailable, bodyUnavailable)
	default:
		s.metrics.Observe(op, metrics.Failed, time.Since(start))
		s.logger.Error("internal error", "op", op, "error", err)
		s.plainError(w, http.StatusInternalServerError, bodyInternal)
	}
}

func (s *Server) plainError(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	body := &bytes.Buffer{}
	bodyTemplate := name + "-body"
	if err := s.templates.ExecuteTemplate(body, bodyTemplate, data); err != nil {
		s.handleTemplateError(w, bodyTemplate, err)
		return
	}
	layoutBuf := &bytes.Buffer{}
	layoutData := struct {
		Title string
		Body  template.HTML
	}{
		Title: "xpbcopy / xpbpaste",
		Body:  template.HTML(body.String()),
	}
	if err := s.templates.ExecuteTemplate(layoutBuf, "layout", layoutData); err != nil {
		s.handleTemplateError(w, "layout", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = layoutBuf.WriteTo(w)
}

func (s *Server) handleTemplateError(w http.ResponseWriter, name string, err error) {
	s.logger.Error("render template", "error", err, "template", name)
	http.Error(w, "Template error", http.StatusInternalServerError)
}

// limitText describes the quotas, e.g. "Maximum of 100 xpbpaste and 10
// xpbcopy every 1 hour, of 64 KiB each, expiring in 1 day."
func (s *Server) limitText() string {
	return fmt.Sprintf("Maximum of %d xpbpaste and %d xpbcopy every %s, of %s each, expiring in %s.",
		s.limits.Read,
		s.limits.Write,
		humanDuration(s.limits.Window),
		humanize.IBytes(uint64(s.maxBytes)),
		humanDuration(s.pastes.Config().Expiry),
	)
}

func humanDuration(d time.Duration) string {
	base := time.Unix(0, 0)
	return strings.TrimSpace(humanize.RelTime(base, base.Add(d), "", ""))
}

func etagFor(content []byte) string {
	sum := blake2b.Sum256(content)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}
