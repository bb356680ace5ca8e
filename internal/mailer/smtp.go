package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"contactform/backend/internal/domain"
)

// TLS 模式
const (
	TLSModeNone     = "none"
	TLSModeStartTLS = "starttls"
	TLSModeTLS      = "tls"
)

// SMTPConfig SMTP 中继配置
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	TLSMode     string
	HelloDomain string
	Timeout     time.Duration
	Envelope    Envelope
	TLSConfig   *tls.Config // 为空时按 Host 校验证书
}

// SMTPDispatcher 通过 SMTP 中继投递通知
type SMTPDispatcher struct {
	cfg    SMTPConfig
	opener AttachmentOpener
	logger *zap.Logger
	now    func() time.Time
}

// NewSMTPDispatcher 创建 SMTP 投递器
func NewSMTPDispatcher(cfg SMTPConfig, opener AttachmentOpener, logger *zap.Logger) *SMTPDispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.HelloDomain == "" {
		cfg.HelloDomain = "localhost"
	}
	if cfg.TLSConfig == nil {
		cfg.TLSConfig = &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SMTPDispatcher{
		cfg:    cfg,
		opener: opener,
		logger: logger,
		now:    time.Now,
	}
}

// Send 编码通知并通过 SMTP 发送给固定收件人
//
// 连接截止时间取 ctx 截止时间与配置超时中较早者；ctx 取消时立即关闭连接。
func (d *SMTPDispatcher) Send(ctx context.Context, payload *domain.NotificationPayload) error {
	var msg bytes.Buffer
	if err := WriteMessage(&msg, d.cfg.Envelope, payload, d.opener, d.now()); err != nil {
		// 附件不可读等本地问题，重试无法恢复
		return &domain.MailError{Kind: domain.MailPermanent, Detail: "compose message", Err: err}
	}

	deadline := d.now().Add(d.cfg.Timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	conn, err := d.dial(ctx, deadline)
	if err != nil {
		return classify("dial", err)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return classify("dial", err)
	}

	c := smtp.NewClient(conn)
	defer c.Close()

	if err := d.deliver(c, msg.Bytes()); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return classify("send", ctxErr)
		}
		return err
	}

	d.logger.Debug("Relay accepted notification",
		zap.String("submission_id", payload.SubmissionID),
		zap.String("relay", d.address()),
		zap.Int("size_bytes", msg.Len()))

	return nil
}

func (d *SMTPDispatcher) deliver(c *smtp.Client, msg []byte) error {
	if err := c.Hello(d.cfg.HelloDomain); err != nil {
		return classify("hello", err)
	}

	if d.cfg.TLSMode == TLSModeStartTLS {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return &domain.MailError{Kind: domain.MailPermanent, Detail: "relay does not support STARTTLS"}
		}
		if err := c.StartTLS(d.cfg.TLSConfig); err != nil {
			return classify("starttls", err)
		}
	}

	if d.cfg.Username != "" {
		if !c.SupportsAuth(sasl.Plain) {
			return &domain.MailError{Kind: domain.MailPermanent, Detail: "relay does not support PLAIN authentication"}
		}
		if err := c.Auth(sasl.NewPlainClient("", d.cfg.Username, d.cfg.Password)); err != nil {
			return classify("auth", err)
		}
	}

	if max, ok := c.MaxMessageSize(); ok && max > 0 && len(msg) > max {
		return &domain.MailError{
			Kind:   domain.MailPermanent,
			Detail: fmt.Sprintf("message size %d exceeds relay limit %d", len(msg), max),
		}
	}

	if err := c.Mail(d.cfg.Envelope.From, nil); err != nil {
		return classify("mail from", err)
	}
	if err := c.Rcpt(d.cfg.Envelope.To, nil); err != nil {
		return classify("rcpt to", err)
	}

	w, err := c.Data()
	if err != nil {
		return classify("data", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return classify("data", err)
	}
	if err := w.Close(); err != nil {
		return classify("data", err)
	}

	// 邮件已被接受，QUIT 失败不影响结果
	_ = c.Quit()
	return nil
}

func (d *SMTPDispatcher) dial(ctx context.Context, deadline time.Time) (net.Conn, error) {
	dialer := &net.Dialer{Deadline: deadline}

	if d.cfg.TLSMode == TLSModeTLS {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: d.cfg.TLSConfig}
		return tlsDialer.DialContext(ctx, "tcp", d.address())
	}

	return dialer.DialContext(ctx, "tcp", d.address())
}

func (d *SMTPDispatcher) address() string {
	return net.JoinHostPort(d.cfg.Host, strconv.Itoa(d.cfg.Port))
}

// classify 将传输层错误归类为可重试或不可重试
//
// 规则：SMTP 4xx 可重试，5xx 不可重试；网络错误和超时可重试；
// TLS 证书错误不可重试；其他未知错误按可重试处理。
func classify(stage string, err error) *domain.MailError {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		kind := domain.MailTransient
		if smtpErr.Code >= 500 {
			kind = domain.MailPermanent
		}
		return &domain.MailError{Kind: kind, Detail: fmt.Sprintf("%s rejected with %d", stage, smtpErr.Code), Err: err}
	}

	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return &domain.MailError{Kind: domain.MailPermanent, Detail: stage + ": certificate verification failed", Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &domain.MailError{Kind: domain.MailTransient, Detail: stage + ": network failure", Err: err}
	}

	return &domain.MailError{Kind: domain.MailTransient, Detail: stage, Err: err}
}
