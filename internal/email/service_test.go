package email

import (
	"net/smtp"
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing port",
			config: Config{
				Host: "smtp.example.com",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "test@example.com",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestNotifySubmissionBuildsPlainTextMessage(t *testing.T) {
	svc := NewService(Config{Host: "smtp.example.com", Port: "587", From: "bot@example.com", FromName: "Pecademic"})

	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	svc.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}

	err := svc.NotifySubmission([]string{"maintainers@example.com"}, SubmissionNotice{
		Login:          "alice",
		CourseCode:     "CS201",
		CourseName:     "Data Structures",
		Year:           2023,
		Label:          "End-Term",
		PullRequestURL: "https://github.com/Robotics-Society-PEC/Studies/pull/42",
	})
	if err != nil {
		t.Fatalf("NotifySubmission() error = %v", err)
	}
	if gotAddr != "smtp.example.com:587" {
		t.Fatalf("unexpected server %q", gotAddr)
	}
	if len(gotTo) != 1 || gotTo[0] != "maintainers@example.com" {
		t.Fatalf("unexpected recipients %v", gotTo)
	}
	for _, want := range []string{
		"From: Pecademic <bot@example.com>",
		"Subject: New paper: CS201 End-Term (2023)",
		"alice submitted the End-Term paper for Data Structures (CS201, 2023).",
		"https://github.com/Robotics-Society-PEC/Studies/pull/42",
	} {
		if !strings.Contains(gotMsg, want) {
			t.Errorf("message missing %q:\n%s", want, gotMsg)
		}
	}
}

func TestSendEmailRequiresConfiguration(t *testing.T) {
	if err := NewService(Config{}).SendEmail([]string{"a@example.com"}, "s", "b"); err == nil {
		t.Fatal("expected error for unconfigured service")
	}
	svc := NewService(Config{Host: "h", Port: "25", From: "f@example.com"})
	if err := svc.SendEmail(nil, "s", "b"); err == nil {
		t.Fatal("expected error without recipients")
	}
}

func TestSubjectHeaderInjection(t *testing.T) {
	svc := NewService(Config{Host: "h", Port: "25", From: "f@example.com"})
	msg := string(svc.buildMessage([]string{"a@example.com"}, "hi\r\nBcc: x@example.com", "body"))
	if strings.Contains(msg, "\r\nBcc:") {
		t.Fatalf("subject must not inject headers: %q", msg)
	}
}
