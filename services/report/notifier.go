package report

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"marketsync/config"

	"go.uber.org/zap"
)

// ErrNotConfigured is returned when delivery credentials are missing
var ErrNotConfigured = errors.New("report: notifier not configured")

// Notifier delivers a generated report
type Notifier interface {
	Send(ctx context.Context, r *Report) error
}

// LogNotifier writes the report summary to the log
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier creates a notifier that only logs
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{log: log.Named("report")}
}

// Send logs r
func (n *LogNotifier) Send(ctx context.Context, r *Report) error {
	n.log.Info(r.Title,
		zap.Int("total", r.Summary.TotalStocks),
		zap.Int("up", r.Summary.Up),
		zap.Int("down", r.Summary.Down),
		zap.Int("limit_up", r.Summary.LimitUp),
		zap.Int("limit_down", r.Summary.LimitDown),
		zap.String("amount", r.Summary.TotalAmount.StringFixed(0)),
		zap.Int("alerts", len(r.RiskAlerts)),
	)
	return nil
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier mails the report as plain text
type SMTPNotifier struct {
	cfg      config.Email
	sendMail sendMailFunc
}

// NewSMTPNotifier creates a mail notifier from cfg
func NewSMTPNotifier(cfg config.Email) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg, sendMail: smtp.SendMail}
}

// Send mails r to every configured recipient
func (n *SMTPNotifier) Send(ctx context.Context, r *Report) error {
	if !n.cfg.Configured() {
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := net.JoinHostPort(n.cfg.SMTPServer, strconv.Itoa(n.cfg.SMTPPort))
	auth := smtp.PlainAuth("", n.cfg.SenderEmail, n.cfg.SenderPassword, n.cfg.SMTPServer)
	msg := buildMessage(n.cfg.SenderEmail, n.cfg.Recipients, r)

	if err := n.sendMail(addr, auth, n.cfg.SenderEmail, n.cfg.Recipients, msg); err != nil {
		return fmt.Errorf("send report via %s: %w", addr, err)
	}
	return nil
}

func buildMessage(from string, to []string, r *Report) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", r.Title)
	fmt.Fprintf(&b, "Date: %s\r\n", r.GeneratedAt.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(Render(r), "\n", "\r\n"))
	return []byte(b.String())
}

// Render formats r as plain text
func Render(r *Report) string {
	var b strings.Builder
	s := r.Summary

	fmt.Fprintf(&b, "%s\n\n", r.Title)
	fmt.Fprintf(&b, "Stocks: %d  up %d  down %d  flat %d\n", s.TotalStocks, s.Up, s.Down, s.Flat)
	fmt.Fprintf(&b, "Limit up: %d  limit down: %d\n", s.LimitUp, s.LimitDown)
	fmt.Fprintf(&b, "Turnover: %s\n", s.TotalAmount.StringFixed(0))

	if len(r.HotStocks) > 0 {
		b.WriteString("\nMost traded\n")
		for i, h := range r.HotStocks {
			fmt.Fprintf(&b, "%2d. %-8s %-24s %10s %7s%% %s\n", i+1, h.Symbol, h.Name,
				h.Close.StringFixed(2), h.ChangePercent.StringFixed(2), h.Amount.StringFixed(0))
		}
	}

	writeSignals := func(title string, signals []Signal) {
		if len(signals) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n%s\n", title)
		for _, sig := range signals {
			fmt.Fprintf(&b, "- %s %s: %s (%.2f)\n", sig.Symbol, sig.Name, sig.Reason, sig.Value)
		}
	}
	writeSignals("Buy signals", r.Signals.Buy)
	writeSignals("Sell signals", r.Signals.Sell)

	if len(r.RiskAlerts) > 0 {
		b.WriteString("\nRisk alerts\n")
		for _, a := range r.RiskAlerts {
			fmt.Fprintf(&b, "[%s] %s: %s\n", strings.ToUpper(a.Level), a.Title, a.Message)
		}
	}

	if len(r.DataStatus.Types) > 0 {
		b.WriteString("\nData status\n")
		for _, t := range r.DataStatus.Types {
			last := "-"
			if t.LastUpdate != nil {
				last = t.LastUpdate.Format(time.DateTime)
			}
			fmt.Fprintf(&b, "%-22s %-8s %s %d\n", t.DataType, t.Status, last, t.RecordsCount)
		}
	}
	return b.String()
}
