package notifications

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"time"
)

// Attachment is a textual file attached to a notification.
type Attachment struct {
	Filename string
	Body     string
}

// buildMessage assembles the full RFC 5322 message: headers, a plain-text
// body part and the optional attachment, as one multipart/mixed payload.
func buildMessage(from, replyTo, to, subject, body string, att *Attachment, date time.Time) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "Date: %s\r\n", date.Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	if replyTo != "" {
		fmt.Fprintf(&buf, "Reply-To: %s\r\n", replyTo)
	}
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n", mw.Boundary())
	buf.WriteString("\r\n")

	textPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/plain; charset=UTF-8"},
	})
	if err != nil {
		return nil, fmt.Errorf("create body part: %w", err)
	}
	if _, err := textPart.Write([]byte(body)); err != nil {
		return nil, fmt.Errorf("write body part: %w", err)
	}

	if att != nil {
		attPart, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":        {"text/plain; charset=UTF-8"},
			"Content-Disposition": {fmt.Sprintf("attachment; filename=%q", att.Filename)},
		})
		if err != nil {
			return nil, fmt.Errorf("create attachment part: %w", err)
		}
		if _, err := attPart.Write([]byte(att.Body)); err != nil {
			return nil, fmt.Errorf("write attachment part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close message: %w", err)
	}
	return buf.Bytes(), nil
}
