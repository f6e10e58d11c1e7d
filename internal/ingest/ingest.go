// Package ingest reads uploads from inbound requests and materializes them
// in memory or as staged temporary files, enforcing the payload size limit.
package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"image-relay/internal/config"
	"image-relay/internal/metrics"
	"image-relay/internal/model"
)

// multipartOverhead is the room allowed on top of the file limit for
// boundaries, part headers and small form fields.
const multipartOverhead = 1 << 20

const defaultContentType = "application/octet-stream"

// safeExt matches extensions that can be carried into a staged filename.
var safeExt = regexp.MustCompile(`^\.[A-Za-z0-9]{1,10}$`)

// Ingestor turns an inbound request into an IncomingPayload.
type Ingestor struct {
	maxBytes   int64
	field      string
	inputMode  string
	staged     bool
	stagingDir string
	logger     *slog.Logger
	metrics    *metrics.Metrics
	uniqueID   func() string
}

// NewIngestor creates an Ingestor from the relay configuration.
// The metrics parameter is optional; pass nil to disable ingestion metrics.
func NewIngestor(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Ingestor {
	return &Ingestor{
		maxBytes:   cfg.Relay.MaxPayloadBytes,
		field:      cfg.Relay.UploadField,
		inputMode:  cfg.Relay.InputMode,
		staged:     cfg.Relay.IngestionMode == config.IngestionStaged,
		stagingDir: cfg.Relay.StagingDir,
		logger:     logger.With("component", "ingestor"),
		metrics:    m,
		uniqueID:   timeOrderedID,
	}
}

// timeOrderedID returns a UUIDv7, whose leading bits are a millisecond
// timestamp, falling back to a random UUID.
func timeOrderedID() string {
	v7, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return v7.String()
}

// Ingest reads the upload from req. In staged mode the returned payload owns
// a temporary file that the caller must hand to the cleanup coordinator. On
// error no temporary file is left behind.
func (i *Ingestor) Ingest(req *http.Request) (*model.IncomingPayload, error) {
	p, err := i.ingest(req)
	if err != nil {
		i.reject(err)
		return nil, err
	}

	if i.metrics != nil {
		mode := config.IngestionBuffered
		if p.Staged() {
			mode = config.IngestionStaged
		}
		i.metrics.PayloadBytes.WithLabelValues(mode).Observe(float64(p.Size))
	}
	i.logger.Debug("payload ingested",
		"filename", p.Filename,
		"size", p.Size,
		"content_type", p.ContentType,
		"staged", p.Staged(),
	)
	return p, nil
}

func (i *Ingestor) ingest(req *http.Request) (*model.IncomingPayload, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, &ValidationError{Field: i.field, Err: ErrNoFilePresent}
	}

	if i.isMultipart(req) {
		if req.ContentLength > i.maxBytes+multipartOverhead {
			return nil, i.tooLarge()
		}
		req.Body = http.MaxBytesReader(nil, req.Body, i.maxBytes+multipartOverhead)
		return i.ingestMultipart(req)
	}

	if req.ContentLength > i.maxBytes {
		return nil, i.tooLarge()
	}
	return i.ingestRaw(req)
}

func (i *Ingestor) isMultipart(req *http.Request) bool {
	switch i.inputMode {
	case config.InputModeRaw:
		return false
	case config.InputModeAuto:
		mt, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))
		return mt == "multipart/form-data"
	default:
		return true
	}
}

func (i *Ingestor) ingestMultipart(req *http.Request) (*model.IncomingPayload, error) {
	mr, err := req.MultipartReader()
	if err != nil {
		return nil, &ValidationError{Field: i.field, Err: ErrNotMultipart}
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, &ValidationError{Field: i.field, Err: ErrNoFilePresent}
		}
		if err != nil {
			return nil, i.readError(err)
		}

		if part.FileName() == "" {
			// Plain form value; drain so the reader can advance.
			_, _ = io.Copy(io.Discard, part)
			continue
		}
		if part.FormName() != i.field {
			return nil, &ValidationError{Field: part.FormName(), Err: ErrUnexpectedField}
		}

		p, err := i.materialize(part, -1, filepath.Base(part.FileName()), partContentType(part))
		_ = part.Close()
		return p, err
	}
}

func (i *Ingestor) ingestRaw(req *http.Request) (*model.IncomingPayload, error) {
	ct := req.Header.Get("Content-Type")
	if ct == "" {
		ct = defaultContentType
	}
	return i.materialize(req.Body, req.ContentLength, rawFilename(req), ct)
}

// materialize reads at most maxBytes from r into memory or a staged file.
// One extra byte is read to detect an oversized upload. declared is the
// upload's length when the request already guarantees it fits, or -1. A
// staged file is only created once the upload is known to fit, so an
// unknown length is read into memory first.
func (i *Ingestor) materialize(r io.Reader, declared int64, filename, contentType string) (*model.IncomingPayload, error) {
	limited := io.LimitReader(r, i.maxBytes+1)
	p := &model.IncomingPayload{Filename: filename, ContentType: contentType}

	if i.staged && declared > 0 {
		return i.stage(p, limited)
	}

	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, i.readError(err)
	}
	if int64(len(data)) > i.maxBytes {
		return nil, i.tooLarge()
	}
	if len(data) == 0 {
		return nil, &ValidationError{Field: i.field, Err: ErrNoFilePresent}
	}
	if i.staged {
		return i.stage(p, bytes.NewReader(data))
	}
	p.Data = data
	p.Size = int64(len(data))
	return p, nil
}

// stage writes r to a new file in the staging dir. The file is removed again
// on any failure.
func (i *Ingestor) stage(p *model.IncomingPayload, r io.Reader) (*model.IncomingPayload, error) {
	path := filepath.Join(i.stagingDir, i.stagedName(p.Filename))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create staged file: %w", err)
	}

	n, copyErr := io.Copy(f, r)
	closeErr := f.Close()

	var failure error
	switch {
	case copyErr != nil:
		failure = i.readError(copyErr)
	case closeErr != nil:
		failure = fmt.Errorf("close staged file: %w", closeErr)
	case n > i.maxBytes:
		failure = i.tooLarge()
	case n == 0:
		failure = &ValidationError{Field: i.field, Err: ErrNoFilePresent}
	}
	if failure != nil {
		if err := os.Remove(path); err != nil {
			i.logger.Warn("remove partial staged file", "err", err, "path", path)
		}
		return nil, failure
	}

	p.Path = path
	p.Size = n
	return p, nil
}

// stagedName builds "<field>-<time ordered id><ext>".
func (i *Ingestor) stagedName(original string) string {
	ext := filepath.Ext(original)
	if !safeExt.MatchString(ext) {
		ext = ""
	}
	return i.field + "-" + i.uniqueID() + strings.ToLower(ext)
}

func (i *Ingestor) tooLarge() error {
	return fmt.Errorf("%w: limit is %d bytes", ErrPayloadTooLarge, i.maxBytes)
}

// readError classifies body read failures; hitting the multipart byte cap is
// a size violation, anything else is an I/O failure.
func (i *Ingestor) readError(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return i.tooLarge()
	}
	return fmt.Errorf("read upload: %w", err)
}

func (i *Ingestor) reject(err error) {
	if i.metrics == nil {
		return
	}
	reason := "read_error"
	switch {
	case errors.Is(err, ErrPayloadTooLarge):
		reason = "too_large"
	case errors.Is(err, ErrNoFilePresent):
		reason = "no_file"
	case errors.Is(err, ErrUnexpectedField):
		reason = "unexpected_field"
	case errors.Is(err, ErrNotMultipart):
		reason = "not_multipart"
	}
	i.metrics.Rejections.WithLabelValues(reason).Inc()
}

func partContentType(part *multipart.Part) string {
	if ct := part.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return defaultContentType
}

// rawFilename takes the name from a Content-Disposition or X-Filename header.
func rawFilename(req *http.Request) string {
	if cd := req.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil && params["filename"] != "" {
			return filepath.Base(params["filename"])
		}
	}
	if name := req.Header.Get("X-Filename"); name != "" {
		return filepath.Base(name)
	}
	return "upload"
}
