package tasks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/tobfr/verbatim/internal/blob"
	"github.com/tobfr/verbatim/internal/errclass"
	"github.com/tobfr/verbatim/internal/queue"
	"github.com/tobfr/verbatim/internal/store"
)

// ErrDuplicateFile means the downloaded content already exists in the user's
// library as an active file.
var ErrDuplicateFile = errors.New("duplicate of an existing file")

// SourceInfo is what a downloader learned about the remote source. All
// fields may be empty; Raw carries the extractor's full metadata for
// archival, keyed by field name.
type SourceInfo struct {
	Filename    string
	Title       string
	Author      string
	Description string
	Thumbnail   string
	Raw         map[string]string
}

// Downloader fetches a remote source into w. progress receives
// (written, total) byte counts; total is -1 when unknown.
type Downloader interface {
	Download(ctx context.Context, sourceURL string, w io.Writer, progress func(written, total int64)) (SourceInfo, error)
}

// HTTPDownloader fetches plain HTTP(S) sources. YouTube and other extractor
// backed sources are provided by an external Downloader implementation; this
// one covers direct media URLs.
type HTTPDownloader struct {
	client *http.Client
}

// NewHTTPDownloader creates a downloader. A nil client gets a 10 minute
// timeout default; media downloads are large but not unbounded.
func NewHTTPDownloader(client *http.Client) *HTTPDownloader {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	return &HTTPDownloader{client: client}
}

func (d *HTTPDownloader) Download(ctx context.Context, sourceURL string, w io.Writer, progress func(written, total int64)) (SourceInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return SourceInfo{}, fmt.Errorf("download: build request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return SourceInfo{}, fmt.Errorf("download: fetch %q: %w", sourceURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return SourceInfo{}, fmt.Errorf("download: fetch %q: status %d: %w", sourceURL, resp.StatusCode, errclass.ErrPermission)
	case resp.StatusCode != http.StatusOK:
		return SourceInfo{}, fmt.Errorf("download: fetch %q: unexpected status %d", sourceURL, resp.StatusCode)
	}

	total := resp.ContentLength
	var written int64
	buf := make([]byte, 256<<10)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return SourceInfo{}, fmt.Errorf("download: write: %w", err)
			}
			written += int64(n)
			if progress != nil {
				progress(written, total)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return SourceInfo{}, fmt.Errorf("download: read body: %w", readErr)
		}
	}

	info := SourceInfo{
		Filename: remoteFilename(resp, sourceURL),
		Raw:      map[string]string{"source_url": sourceURL},
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		info.Raw["content_type"] = ct
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		info.Raw["last_modified"] = lm
	}
	return info, nil
}

// remoteFilename extracts a display name from Content-Disposition, falling
// back to the URL path.
func remoteFilename(resp *http.Response, sourceURL string) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil && params["filename"] != "" {
			return params["filename"]
		}
	}
	if u, err := url.Parse(sourceURL); err == nil {
		if name := path.Base(u.Path); name != "." && name != "/" {
			return name
		}
	}
	return ""
}

// runDownload fetches the file's source URL into the object store, hashing as
// it streams, rejects in-library duplicates, and hands the file to
// transcription.
func (s *Service) runDownload(ctx context.Context, task store.Task) error {
	f, err := s.store.Files.Get(ctx, task.FileID)
	if err != nil {
		return err
	}
	switch f.Status {
	case store.StatusCancelling, store.StatusCancelled:
		s.log.Info("download skipped, file cancelled", "file_id", f.ID)
		return nil
	case store.StatusPending:
		if f, err = s.store.Files.Transition(ctx, f.ID, store.StatusProcessing); err != nil {
			return err
		}
		s.publishFileStatus(ctx, f)
	}
	if f.SourceURL == "" {
		return errors.New("download: file has no source URL")
	}

	// Spool to disk first: the hash must be complete before the duplicate
	// check, and the object store wants a known size.
	tmp, err := os.CreateTemp("", "verbatim-download-*")
	if err != nil {
		return fmt.Errorf("download: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	hasher := sha256.New()
	onProgress := func(written, total int64) {
		if total <= 0 {
			return
		}
		pct := float64(written) / float64(total) * 100
		if err := s.store.Tasks.UpdateProgress(ctx, task.ID, pct); err != nil {
			s.log.Debug("task progress", "task_id", task.ID, "error", err)
		}
		s.syncFileProgress(ctx, task)
	}

	info, err := s.downloader.Download(ctx, f.SourceURL, io.MultiWriter(tmp, hasher), onProgress)
	if err != nil {
		return err
	}
	size, err := tmp.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("download: size temp file: %w", err)
	}
	hash := hex.EncodeToString(hasher.Sum(nil))

	if dup, err := s.findActiveDuplicate(ctx, f, hash); err != nil {
		return err
	} else if dup != nil {
		return fmt.Errorf("%w (%q): %w", ErrDuplicateFile, dup.Filename, errclass.ErrFileQuality)
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("download: rewind temp file: %w", err)
	}
	if err := s.blobs.Put(ctx, blob.OriginalKey(f.ID), tmp, size, "application/octet-stream"); err != nil {
		return err
	}
	if err := s.store.Files.SetMediaInfo(ctx, f.ID, f.DurationSec, size, hash); err != nil {
		return err
	}
	if err := s.applySourceInfo(ctx, f, info); err != nil {
		return err
	}

	if _, err := s.Submit(ctx, f.ID, f.UserID, queue.TypeTranscription); err != nil {
		return err
	}
	return nil
}

// applySourceInfo records what the source told us about the file: display
// details and the raw extractor metadata alongside a curated subset.
func (s *Service) applySourceInfo(ctx context.Context, f store.MediaFile, info SourceInfo) error {
	title := info.Title
	if title == "" && f.Filename == "" && info.Filename != "" {
		title = info.Filename
	}
	if title != "" || info.Author != "" || info.Description != "" || info.Thumbnail != "" {
		if err := s.store.Files.SetDetails(ctx, f.ID, title, info.Author, info.Description, info.Thumbnail); err != nil {
			return err
		}
	}
	if len(info.Raw) == 0 {
		return nil
	}
	important := map[string]string{}
	for _, key := range []string{"uploader", "upload_date", "duration", "view_count", "content_type"} {
		if v, ok := info.Raw[key]; ok {
			important[key] = v
		}
	}
	return s.store.Files.SetSourceMetadata(ctx, f.ID, info.Raw, important)
}

// findActiveDuplicate returns another file of the same user with the same
// content hash that is still live. FindByHash already skips failed,
// cancelled, and orphaned files, so they never block a re-download.
func (s *Service) findActiveDuplicate(ctx context.Context, f store.MediaFile, hash string) (*store.MediaFile, error) {
	dup, err := s.store.Files.FindByHash(ctx, f.UserID, hash)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if dup.ID == f.ID {
		return nil, nil
	}
	return &dup, nil
}
