// Package wire encodes chat requests for transport and decodes them on the
// receiving side. Requests without attachments travel as plain JSON; requests
// with attachments travel as multipart/form-data with one part per file.
package wire

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"

	"github.com/google/uuid"
	"github.com/xiaot623/aichat/protocol"
)

const (
	// ContentTypeJSON is the content type of a plain JSON body.
	ContentTypeJSON = "application/json; charset=utf-8"
	// JSONPartName is the form field holding the request without its files.
	JSONPartName = "json"

	boundaryPrefix = "---Part-"
)

// Body is a fully built request body. It is never partially populated.
type Body struct {
	ContentType string
	Data        []byte
}

// Multipart reports whether the body uses multipart encoding.
func (b *Body) Multipart() bool {
	mediaType, _, err := mime.ParseMediaType(b.ContentType)
	return err == nil && mediaType == "multipart/form-data"
}

// Encode serializes req, choosing multipart encoding when any message carries
// attachments. req is not modified. Errors are *protocol.EncodeError or
// *protocol.CancelledError.
func Encode(ctx context.Context, req *protocol.Request) (*Body, error) {
	if err := protocol.Cancelled(ctx); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, &protocol.EncodeError{Err: protocol.ErrNoMessages}
	}
	if req.HasFiles() {
		return encodeMultipart(ctx, req)
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, &protocol.EncodeError{Err: fmt.Errorf("marshal request: %w", err)}
	}
	return &Body{ContentType: ContentTypeJSON, Data: data}, nil
}

// FilePartName returns the form field name addressing file j of message i.
func FilePartName(messageIndex, fileIndex int) string {
	return fmt.Sprintf("messages[%d].files[%d]", messageIndex, fileIndex)
}

func encodeMultipart(ctx context.Context, req *protocol.Request) (*Body, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.SetBoundary(boundaryPrefix + uuid.NewString()); err != nil {
		return nil, &protocol.EncodeError{Err: fmt.Errorf("set boundary: %w", err)}
	}

	jsonData, err := json.Marshal(req.WithoutFiles())
	if err != nil {
		return nil, &protocol.EncodeError{Err: fmt.Errorf("marshal request: %w", err)}
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{"name": JSONPartName}))
	h.Set("Content-Type", ContentTypeJSON)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, &protocol.EncodeError{Err: fmt.Errorf("create json part: %w", err)}
	}
	if _, err := part.Write(jsonData); err != nil {
		return nil, &protocol.EncodeError{Err: fmt.Errorf("write json part: %w", err)}
	}

	if err := protocol.Cancelled(ctx); err != nil {
		return nil, err
	}

	for i := range req.Messages {
		for j, file := range req.Messages[i].Files {
			if err := protocol.Cancelled(ctx); err != nil {
				return nil, err
			}
			if err := writeFilePart(w, FilePartName(i, j), file); err != nil {
				return nil, &protocol.EncodeError{Err: err}
			}
		}
	}

	if err := w.Close(); err != nil {
		return nil, &protocol.EncodeError{Err: fmt.Errorf("close multipart writer: %w", err)}
	}
	return &Body{ContentType: w.FormDataContentType(), Data: buf.Bytes()}, nil
}

func writeFilePart(w *multipart.Writer, name string, file protocol.Attachment) error {
	if file.Filename == "" {
		return fmt.Errorf("%s: filename is required", name)
	}
	if _, _, err := mime.ParseMediaType(file.ContentType); err != nil {
		return fmt.Errorf("%s: invalid content type %q: %w", name, file.ContentType, err)
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
		"name":     name,
		"filename": file.Filename,
	}))
	h.Set("Content-Type", file.ContentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("%s: create part: %w", name, err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return fmt.Errorf("%s: write part: %w", name, err)
	}
	return nil
}
