package messaging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/shulelink/backend/core"
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9.-]`)

// sanitizeFilename strips characters outside [A-Za-z0-9.-] and prefixes the
// name with a timestamp to avoid collisions.
func sanitizeFilename(name string, ts int64) string {
	clean := unsafeFilenameChars.ReplaceAllString(name, "")
	clean = strings.Trim(clean, ".")
	if clean == "" {
		clean = "file"
	}
	return fmt.Sprintf("%d-%s", ts, clean)
}

// uploadAttachment stores one upload under a path namespaced by messageID and
// persists the Attachment row. Policy (IsFileAllowed) has already been
// checked by the caller; only the virus scan happens here.
func (svc *service) uploadAttachment(ctx context.Context, messageID string, up FileUpload) (Attachment, error) {
	content := new(bytes.Buffer)
	if _, err := io.Copy(content, up.Content); err != nil {
		return Attachment{}, core.NewStorageError(errors.Wrap(err, "reading upload"))
	}

	report, err := svc.scanner.Scan(ctx, bytes.NewReader(content.Bytes()))
	if err != nil {
		return Attachment{}, core.NewStorageError(errors.Wrap(err, "scanning upload"))
	}
	if !report.Clean {
		return Attachment{}, core.NewValidationError(
			errors.Errorf("infected file: %s", up.Filename),
			core.FieldError{Field: "attachments", Error: fmt.Sprintf("%s failed the virus scan", up.Filename)},
		)
	}

	now := nowFunc().UTC()
	filename := sanitizeFilename(up.Filename, now.UnixMilli())
	storagePath := path.Join("attachments", messageID, filename)

	uploadCtx := ctx
	if svc.uploadTimeout > 0 {
		var cancel context.CancelFunc
		uploadCtx, cancel = context.WithTimeout(ctx, svc.uploadTimeout)
		defer cancel()
	}
	url, err := svc.fileStore.Put(uploadCtx, storagePath, content)
	if err != nil {
		return Attachment{}, core.NewStorageError(errors.Wrap(err, "storing upload"))
	}

	att := Attachment{
		ID:               uuid.NewString(),
		MessageID:        messageID,
		Filename:         filename,
		OriginalFilename: up.Filename,
		MimeType:         up.MimeType,
		SizeBytes:        up.Size,
		URL:              url,
		CreatedAt:        now,
	}
	att, err = svc.repo.CreateAttachment(ctx, att)
	if err != nil {
		return Attachment{}, core.NewDatabaseError(errors.Wrap(err, "creating attachment"))
	}
	return att, nil
}
