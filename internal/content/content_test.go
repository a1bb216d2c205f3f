package content

import (
	"testing"

	"tradewire/internal/models"

	"github.com/stretchr/testify/require"
)

// Smallest payloads the sniffer recognizes: magic bytes are enough.
var (
	pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	pdfHeader = []byte("%PDF-1.4\n")
)

func TestSanitize(t *testing.T) {
	require.Equal(t, "hello", Sanitize(`<script>alert(1)</script>hello`))
	require.Equal(t, "<b>price: 40</b>", Sanitize(`<b onclick="steal()">price: 40</b>`))
}

func TestRender(t *testing.T) {
	out, err := Render("**50 units** available")
	require.NoError(t, err)
	require.Contains(t, out, "<strong>50 units</strong>")

	// Injected markup does not survive rendering.
	out, err = Render(`quote attached <img src=x onerror=alert(1)>`)
	require.NoError(t, err)
	require.NotContains(t, out, "onerror")
}

func TestDetectAttachment(t *testing.T) {
	t.Run("image", func(t *testing.T) {
		att, msgType := DetectAttachment("photo.png", pngHeader)
		require.Equal(t, models.AttachmentTypeImage, att.Type)
		require.Equal(t, "image/png", att.MimeType)
		require.Equal(t, "photo.png", att.Name)
		require.Equal(t, models.MessageTypeImage, msgType)
	})

	t.Run("document", func(t *testing.T) {
		att, msgType := DetectAttachment("quote.pdf", pdfHeader)
		require.Equal(t, models.AttachmentTypeFile, att.Type)
		require.Equal(t, "application/pdf", att.MimeType)
		require.Equal(t, models.MessageTypeFile, msgType)
	})

	t.Run("unknown bytes fall back to octet-stream", func(t *testing.T) {
		att, msgType := DetectAttachment("blob.bin", []byte{0x00, 0x01, 0x02, 0x03})
		require.Equal(t, models.AttachmentTypeFile, att.Type)
		require.Equal(t, "application/octet-stream", att.MimeType)
		require.Equal(t, models.MessageTypeFile, msgType)
	})
}
