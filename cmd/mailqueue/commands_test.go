package main

import (
	"bytes"
	"sort"
	"testing"

	"github.com/kursadbilgin/mailqueue/internal/config"
	"github.com/kursadbilgin/mailqueue/internal/provider"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	t.Parallel()

	root := newRootCommand()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	sort.Strings(names)

	want := []string{"migrate", "process-once", "serve", "stats", "worker"}
	if len(names) != len(want) {
		t.Fatalf("commands = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("commands = %v, want %v", names, want)
		}
	}

	serve, _, err := root.Find([]string{"serve"})
	if err != nil {
		t.Fatalf("Find(serve) error = %v", err)
	}
	if serve.Flags().Lookup("skip-migrate") == nil {
		t.Fatal("serve should expose --skip-migrate")
	}
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)

	if err := writeJSON(cmd, map[string]int{"sent": 3}); err != nil {
		t.Fatalf("writeJSON() error = %v", err)
	}
	if got := out.String(); got != "{\n  \"sent\": 3\n}\n" {
		t.Fatalf("output = %q", got)
	}
}

func TestNewMailTransportSelection(t *testing.T) {
	t.Parallel()

	smtp, err := newMailTransport(&config.Config{
		MailTransport: config.TransportSMTP,
		SMTPHost:      "smtp.example.com",
		SMTPPort:      587,
		SMTPFrom:      "noreply@example.com",
	})
	if err != nil {
		t.Fatalf("newMailTransport(smtp) error = %v", err)
	}
	if _, ok := smtp.(*provider.SMTPTransport); !ok {
		t.Fatalf("transport = %T, want *provider.SMTPTransport", smtp)
	}

	webhook, err := newMailTransport(&config.Config{
		MailTransport:  config.TransportWebhook,
		MailWebhookURL: "https://relay.example.com/send",
	})
	if err != nil {
		t.Fatalf("newMailTransport(webhook) error = %v", err)
	}
	if webhook.Name() != "relay.example.com" {
		t.Fatalf("webhook name = %q", webhook.Name())
	}
}
