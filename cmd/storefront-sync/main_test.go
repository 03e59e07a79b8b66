package main

import (
	"bytes"
	"encoding/json"
	"testing"
)

func runCommand(t *testing.T, args ...string) []byte {
	t.Helper()
	rootCmd := newRootCommand()
	output := &bytes.Buffer{}
	rootCmd.SetOut(output)
	rootCmd.SetArgs(append(args, "--storage-driver", "memory", "--signing-secret", "cli-secret", "--log-level", "error"))
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("command %v failed: %v", args, err)
	}
	return output.Bytes()
}

func TestCartAddCommandPrintsMergedCart(t *testing.T) {
	output := runCommand(t, "cart", "add", "--product-id", "p1", "--price-cents", "1500", "--size", "M", "--quantity", "2")

	var summary cartSummary
	if err := json.Unmarshal(output, &summary); err != nil {
		t.Fatalf("failed to decode output %q: %v", output, err)
	}
	if len(summary.Items) != 1 || summary.Units != 2 || summary.TotalCents != 3000 {
		t.Fatalf("unexpected cart summary %#v", summary)
	}
}

func TestNotificationsListSeedsDefaultFeed(t *testing.T) {
	output := runCommand(t, "notifications", "list")

	var feed []map[string]any
	if err := json.Unmarshal(output, &feed); err != nil {
		t.Fatalf("failed to decode output %q: %v", output, err)
	}
	if len(feed) != 5 {
		t.Fatalf("expected five seeded notifications, got %d", len(feed))
	}
}

func TestSessionStatusWithoutSessionIsUnauthenticated(t *testing.T) {
	output := runCommand(t, "session", "status")

	var summary sessionSummary
	if err := json.Unmarshal(output, &summary); err != nil {
		t.Fatalf("failed to decode output %q: %v", output, err)
	}
	if summary.Phase != "unauthenticated" || summary.Identity != nil {
		t.Fatalf("unexpected session summary %#v", summary)
	}
}

func TestSessionRegisterSignsIn(t *testing.T) {
	output := runCommand(t, "session", "register", "carol@example.com", "--full-name", "Carol Example")

	var summary sessionSummary
	if err := json.Unmarshal(output, &summary); err != nil {
		t.Fatalf("failed to decode output %q: %v", output, err)
	}
	if summary.Identity == nil || summary.Identity.Email != "carol@example.com" {
		t.Fatalf("expected registered identity, got %#v", summary)
	}
	if summary.Profile == nil || summary.Profile.DisplayName != "Carol Example" {
		t.Fatalf("expected synthesized profile, got %#v", summary.Profile)
	}
	if summary.AccessToken == "" {
		t.Fatalf("expected issued token in output")
	}
}
