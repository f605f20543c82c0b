package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"regexp"
	"sort"
	"strconv"

	"github.com/xiaot623/aichat/protocol"
)

var filePartPattern = regexp.MustCompile(`^messages\[(\d+)\]\.files\[(\d+)\]$`)

// ErrUnsupportedContentType is wrapped by the decode error returned for a body
// that is neither JSON nor multipart.
var ErrUnsupportedContentType = errors.New("unsupported content type")

type addressedFile struct {
	message int
	index   int
	file    protocol.Attachment
}

// DecodeRequest inverts Encode. contentType is the Content-Type header of the
// body. Errors are *protocol.DecodeError.
func DecodeRequest(contentType string, body io.Reader) (*protocol.Request, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, &protocol.DecodeError{Err: fmt.Errorf("parse content type %q: %w", contentType, err)}
	}

	switch mediaType {
	case "application/json":
		var req protocol.Request
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			return nil, &protocol.DecodeError{Err: fmt.Errorf("decode request: %w", err)}
		}
		return &req, nil
	case "multipart/form-data":
		boundary := params["boundary"]
		if boundary == "" {
			return nil, &protocol.DecodeError{Err: errors.New("multipart body has no boundary")}
		}
		req, err := decodeMultipart(multipart.NewReader(body, boundary))
		if err != nil {
			return nil, &protocol.DecodeError{Err: err}
		}
		return req, nil
	default:
		return nil, &protocol.DecodeError{Err: fmt.Errorf("%w %q", ErrUnsupportedContentType, mediaType)}
	}
}

func decodeMultipart(mr *multipart.Reader) (*protocol.Request, error) {
	var (
		req   *protocol.Request
		files []addressedFile
	)

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read part: %w", err)
		}

		name := part.FormName()
		if name == JSONPartName {
			if req != nil {
				return nil, errors.New("duplicate json part")
			}
			var r protocol.Request
			if err := json.NewDecoder(part).Decode(&r); err != nil {
				return nil, fmt.Errorf("decode json part: %w", err)
			}
			req = &r
			continue
		}

		m := filePartPattern.FindStringSubmatch(name)
		if m == nil {
			return nil, fmt.Errorf("unexpected part %q", name)
		}
		msgIdx, _ := strconv.Atoi(m[1])
		fileIdx, _ := strconv.Atoi(m[2])
		filename, err := partFilename(part)
		if err != nil {
			return nil, fmt.Errorf("part %q: %w", name, err)
		}
		data, err := io.ReadAll(part)
		if err != nil {
			return nil, fmt.Errorf("read part %q: %w", name, err)
		}
		files = append(files, addressedFile{
			message: msgIdx,
			index:   fileIdx,
			file: protocol.Attachment{
				Filename:    filename,
				ContentType: part.Header.Get("Content-Type"),
				Data:        data,
			},
		})
	}

	if req == nil {
		return nil, errors.New("missing json part")
	}
	if err := attachFiles(req, files); err != nil {
		return nil, err
	}
	return req, nil
}

// partFilename returns the filename parameter exactly as sent.
// multipart.Part.FileName reduces it to its base name, which would turn
// "docs/report.txt" into "report.txt".
func partFilename(part *multipart.Part) (string, error) {
	_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
	if err != nil {
		return "", fmt.Errorf("parse content disposition: %w", err)
	}
	return params["filename"], nil
}

// attachFiles puts every file back at its positional address. Indices within
// one message must be contiguous from zero.
func attachFiles(req *protocol.Request, files []addressedFile) error {
	sort.SliceStable(files, func(a, b int) bool {
		if files[a].message != files[b].message {
			return files[a].message < files[b].message
		}
		return files[a].index < files[b].index
	})

	for _, f := range files {
		if f.message >= len(req.Messages) {
			return fmt.Errorf("file %s addresses missing message", FilePartName(f.message, f.index))
		}
		msg := &req.Messages[f.message]
		if f.index != len(msg.Files) {
			return fmt.Errorf("file %s is out of sequence", FilePartName(f.message, f.index))
		}
		msg.Files = append(msg.Files, f.file)
	}
	return nil
}
