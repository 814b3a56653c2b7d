// Package email notifies archive maintainers over SMTP.
package email

import (
	"bytes"
	"fmt"
	"net/smtp"
	"strings"
	"text/template"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service sends plain text mail.
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendEmail sends a plain text email
func (s *Service) SendEmail(to []string, subject, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}
	if len(to) == 0 {
		return fmt.Errorf("no recipients")
	}
	return s.send(s.server, s.auth, s.config.From, to, s.buildMessage(to, subject, body))
}

func (s *Service) buildMessage(to []string, subject, body string) []byte {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	return []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		strings.Join(to, ", "),
		from,
		sanitizeHeader(subject),
		strings.ReplaceAll(body, "\n", "\r\n"),
	))
}

// SubmissionNotice describes an opened pull request.
type SubmissionNotice struct {
	Login          string
	CourseCode     string
	CourseName     string
	Year           int
	Label          string
	PullRequestURL string
}

// NotifySubmission tells maintainers a paper is waiting for review.
func (s *Service) NotifySubmission(to []string, n SubmissionNotice) error {
	body, err := renderTemplate(submissionTemplate, n)
	if err != nil {
		return fmt.Errorf("render submission template: %w", err)
	}
	subject := fmt.Sprintf("New paper: %s %s (%d)", n.CourseCode, n.Label, n.Year)
	return s.SendEmail(to, subject, body)
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sanitizeHeader(value string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(value)
}

const submissionTemplate = `{{.Login}} submitted the {{.Label}} paper for {{.CourseName}} ({{.CourseCode}}, {{.Year}}).

Review the pull request:
{{.PullRequestURL}}
`
