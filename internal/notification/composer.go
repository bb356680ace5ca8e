package notification

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"contactform/backend/internal/domain"
)

// DefaultSubjectPrefix 未配置时的邮件主题前缀
const DefaultSubjectPrefix = "Nouveau message"

// 收到语音留言时主题前的标记
const audioMarker = "🎙️"

var htmlBody = template.Must(template.New("notification").Parse(`<!DOCTYPE html>
<html lang="fr">
<body style="font-family: Arial, sans-serif; color: #222;">
<h2>{{.Title}}</h2>
{{- if .Name}}
<p><strong>Nom :</strong> {{.Name}}</p>
{{- end}}
{{- if .Email}}
<p><strong>Email :</strong> <a href="mailto:{{.Email}}">{{.Email}}</a></p>
{{- end}}
{{- if .MessageLines}}
<p><strong>Message :</strong><br>
{{range $i, $line := .MessageLines}}{{if $i}}<br>
{{end}}{{$line}}{{end}}</p>
{{- end}}
{{- if .Audio}}
<p><strong>Message vocal :</strong> {{.Audio.Name}} ({{.Audio.Size}} MB), en pièce jointe.</p>
{{- end}}
<hr>
<p style="font-size: 12px; color: #888;">Reçu le {{.ReceivedAt}} · Référence {{.ID}}</p>
</body>
</html>
`))

type audioView struct {
	Name string
	Size string
}

type bodyView struct {
	Title        string
	ID           string
	Name         string
	Email        string
	MessageLines []string
	Audio        *audioView
	ReceivedAt   string
}

// Composer 由提交生成通知邮件内容
type Composer struct {
	subjectPrefix string
}

// NewComposer 创建通知生成器
func NewComposer(subjectPrefix string) *Composer {
	prefix := strings.TrimSpace(subjectPrefix)
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Composer{subjectPrefix: prefix}
}

// Compose 生成通知内容
//
// 只渲染存在的字段；HTML 正文中的用户输入全部转义，换行保留为 <br>。
// 不做任何 I/O。
func (c *Composer) Compose(sub *domain.Submission) (*domain.NotificationPayload, error) {
	view := c.view(sub)

	var html bytes.Buffer
	if err := htmlBody.Execute(&html, view); err != nil {
		return nil, fmt.Errorf("failed to render notification: %w", err)
	}

	payload := &domain.NotificationPayload{
		SubmissionID: sub.ID,
		Subject:      c.Subject(sub),
		Text:         renderText(view),
		HTML:         html.String(),
		ReplyTo:      sub.Email,
	}
	if sub.Audio != nil {
		payload.Attachments = []*domain.UploadHandle{sub.Audio}
	}

	return payload, nil
}

// Subject 生成邮件主题，包含提交者姓名（如有）
func (c *Composer) Subject(sub *domain.Submission) string {
	subject := c.subjectPrefix
	if name := singleLine(sub.Name); name != "" {
		subject += " - " + name
	}
	if sub.Audio != nil {
		subject = audioMarker + " " + subject
	}
	return subject
}

func (c *Composer) view(sub *domain.Submission) bodyView {
	view := bodyView{
		Title:      "Nouveau message depuis le formulaire de contact",
		ID:         sub.ID,
		Name:       sub.Name,
		Email:      sub.Email,
		ReceivedAt: sub.ReceivedAt.UTC().Format("02/01/2006 15:04 MST"),
	}

	if sub.Message != "" {
		view.MessageLines = splitLines(sub.Message)
	}

	if sub.Audio != nil {
		view.Title = "Nouveau message vocal depuis le formulaire de contact"
		view.Audio = &audioView{
			Name: sub.Audio.OriginalName,
			Size: FormatSizeMB(sub.Audio.SizeBytes),
		}
	}

	return view
}

func renderText(v bodyView) string {
	var b strings.Builder

	b.WriteString(v.Title)
	b.WriteString("\n\n")

	if v.Name != "" {
		fmt.Fprintf(&b, "Nom : %s\n", v.Name)
	}
	if v.Email != "" {
		fmt.Fprintf(&b, "Email : %s\n", v.Email)
	}
	if len(v.MessageLines) > 0 {
		b.WriteString("Message :\n")
		for _, line := range v.MessageLines {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	if v.Audio != nil {
		fmt.Fprintf(&b, "Message vocal : %s (%s MB), en pièce jointe.\n", v.Audio.Name, v.Audio.Size)
	}

	fmt.Fprintf(&b, "\nReçu le %s\nRéférence %s\n", v.ReceivedAt, v.ID)
	return b.String()
}

// FormatSizeMB 以两位小数显示 MB 大小
func FormatSizeMB(sizeBytes int64) string {
	return fmt.Sprintf("%.2f", float64(sizeBytes)/1024/1024)
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.Split(s, "\n")
}

// singleLine 去除换行，防止邮件头注入
func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
