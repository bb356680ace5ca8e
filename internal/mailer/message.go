package mailer

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"contactform/backend/internal/domain"
)

// AttachmentOpener 读取上传文件内容
type AttachmentOpener interface {
	Open(path string) (*os.File, error)
}

// Envelope 邮件的发件人和收件人
type Envelope struct {
	From     string
	FromName string
	To       string
}

// WriteMessage 将通知编码为 MIME 邮件写入 w
//
// 结构为 multipart/mixed：multipart/alternative（纯文本 + HTML）加上音频附件（base64）。
func WriteMessage(w io.Writer, env Envelope, payload *domain.NotificationPayload, opener AttachmentOpener, now time.Time) error {
	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{{Name: env.FromName, Address: env.From}})
	h.SetAddressList("To", []*mail.Address{{Address: env.To}})
	if payload.ReplyTo != "" {
		h.SetAddressList("Reply-To", []*mail.Address{{Address: payload.ReplyTo}})
	}
	h.SetSubject(payload.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return fmt.Errorf("generate message id: %w", err)
	}
	if payload.SubmissionID != "" {
		h.Set("X-Submission-Id", payload.SubmissionID)
	}

	mw, err := mail.CreateWriter(w, h)
	if err != nil {
		return fmt.Errorf("create mail writer: %w", err)
	}

	iw, err := mw.CreateInline()
	if err != nil {
		return fmt.Errorf("create inline writer: %w", err)
	}

	if err := writeInlinePart(iw, "text/plain", payload.Text); err != nil {
		return err
	}
	if err := writeInlinePart(iw, "text/html", payload.HTML); err != nil {
		return err
	}
	if err := iw.Close(); err != nil {
		return fmt.Errorf("close inline writer: %w", err)
	}

	for _, att := range payload.Attachments {
		if err := writeAttachment(mw, att, opener); err != nil {
			return err
		}
	}

	return mw.Close()
}

func writeInlinePart(iw *mail.InlineWriter, contentType, body string) error {
	var h mail.InlineHeader
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	pw, err := iw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(pw, body); err != nil {
		return fmt.Errorf("write %s part: %w", contentType, err)
	}
	return pw.Close()
}

func writeAttachment(mw *mail.Writer, att *domain.UploadHandle, opener AttachmentOpener) error {
	f, err := opener.Open(att.Path)
	if err != nil {
		return fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()

	var h mail.AttachmentHeader
	h.SetContentType(att.MimeType, nil)
	h.SetFilename(attachmentName(att.OriginalName))
	h.Set("Content-Transfer-Encoding", "base64")

	aw, err := mw.CreateAttachment(h)
	if err != nil {
		return fmt.Errorf("create attachment: %w", err)
	}
	if _, err := io.Copy(aw, f); err != nil {
		return fmt.Errorf("write attachment: %w", err)
	}
	return aw.Close()
}

func attachmentName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "message-vocal"
	}
	return name
}
