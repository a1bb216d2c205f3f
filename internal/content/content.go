// Package content prepares message bodies for display and classifies
// attachments for outbound sends.
package content

import (
	"bytes"
	"fmt"

	"tradewire/internal/models"

	"github.com/h2non/filetype"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

var (
	policy   = bluemonday.UGCPolicy()
	markdown = goldmark.New()
)

// Sanitize removes unsafe HTML from the input string using a strict policy.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// Render converts markdown message content to sanitized HTML. Rendering
// happens before sanitation so injected markup never survives.
func Render(input string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(input), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return policy.Sanitize(buf.String()), nil
}

// DetectAttachment sniffs the payload and builds the attachment record plus
// the message type it implies. Unrecognized content is a plain file.
func DetectAttachment(name string, data []byte) (models.Attachment, models.MessageType) {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return models.Attachment{
			Type:     models.AttachmentTypeFile,
			Name:     name,
			MimeType: "application/octet-stream",
		}, models.MessageTypeFile
	}

	if filetype.IsImage(data) {
		return models.Attachment{
			Type:     models.AttachmentTypeImage,
			Name:     name,
			MimeType: kind.MIME.Value,
		}, models.MessageTypeImage
	}
	return models.Attachment{
		Type:     models.AttachmentTypeFile,
		Name:     name,
		MimeType: kind.MIME.Value,
	}, models.MessageTypeFile
}
