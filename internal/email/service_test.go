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

func TestRenderNotificationTemplate(t *testing.T) {
	data := NotificationData{
		AppName:   appName,
		UserName:  "Test User",
		Title:     "Goal moved to Check",
		Message:   "Reduce churn moved from Do to Check",
		GoalTitle: "Reduce churn",
		GoalURL:   "https://pdca.example.com/goals/abc",
	}

	html, err := renderTemplate(notificationEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	for _, want := range []string{appName, "Test User", "Goal moved to Check", "Reduce churn", "https://pdca.example.com/goals/abc"} {
		if !strings.Contains(html, want) {
			t.Errorf("template should contain %q", want)
		}
	}
}

func TestRenderNotificationTemplateEscapesHTML(t *testing.T) {
	html, err := renderTemplate(notificationEmailTemplate, NotificationData{Title: "<script>x</script>"})
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}
	if strings.Contains(html, "<script>") {
		t.Error("template should escape HTML in the title")
	}
}

func TestSendNotificationEmail(t *testing.T) {
	svc := NewService(Config{Host: "smtp.example.com", Port: "587", From: "noreply@example.com", FromName: "PDCA"})

	var gotTo []string
	var gotMsg string
	svc.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		if addr != "smtp.example.com:587" {
			t.Errorf("addr = %s", addr)
		}
		gotTo = to
		gotMsg = string(msg)
		return nil
	}

	err := svc.SendNotificationEmail("ana@example.com", "Ana", NotificationData{Title: "Assigned\r\nBcc: evil@example.com", Message: "You were assigned"})
	if err != nil {
		t.Fatalf("SendNotificationEmail() error = %v", err)
	}
	if len(gotTo) != 1 || gotTo[0] != "ana@example.com" {
		t.Fatalf("to = %v", gotTo)
	}
	if !strings.Contains(gotMsg, "From: PDCA <noreply@example.com>") {
		t.Error("message should carry the display name")
	}
	if strings.Contains(gotMsg, "\r\nBcc:") {
		t.Error("subject must not inject headers")
	}
}

func TestSendWithoutConfiguration(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.SendHTMLEmail([]string{"a@example.com"}, "s", "p", "h"); err != ErrNotConfigured {
		t.Fatalf("SendHTMLEmail() error = %v, want ErrNotConfigured", err)
	}
}
