package assembly

import (
	"strings"
	"testing"

	"github.com/nvandessel/cozmo-brain/internal/config"
	"github.com/nvandessel/cozmo-brain/internal/models"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatMarkdown, false},
		{"markdown", FormatMarkdown, false},
		{"plain", FormatPlain, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q, err=%v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestDescribe_Markdown(t *testing.T) {
	tb := newTestBrain(t, config.Default(), Options{})

	report := Describe(tb.Brain, FormatMarkdown)
	if len(report.Sections) != 3 {
		t.Fatalf("sections = %d, want 3", len(report.Sections))
	}
	if report.Format != FormatMarkdown {
		t.Errorf("format = %q", report.Format)
	}

	for _, want := range []string{
		"## Brain",
		"### Behaviors (13)",
		"- PlayAnim: LookAround, Dance, ReactToUnexpectedMovement",
		"### Reaction triggers (7)",
		"- 1. CliffDetected [cliff] -> ReactToCliff",
		"- 7. DoubleTapDetected [double_tap] -> ReactToDoubleTap",
		"- freeplay (voice_command)",
		"-   idle (priority): group:idle else Wait",
		"- sparks (sparks)",
		"-   spark_behaviors (priority): PerformTrick else Wait",
	} {
		if !strings.Contains(report.Text, want) {
			t.Errorf("report missing %q:\n%s", want, report.Text)
		}
	}
}

func TestDescribe_Plain(t *testing.T) {
	cfg := config.Default()
	cfg.Choosers.Sparks = nil
	tb := newTestBrain(t, cfg, Options{})

	report := Describe(tb.Brain, FormatPlain)
	if !strings.HasPrefix(report.Text, "Behaviors (13):\n") {
		t.Errorf("text = %q", report.Text)
	}
	if strings.Contains(report.Text, "sparks (sparks)") {
		t.Error("sparks chooser listed although none is configured")
	}
	if !strings.Contains(report.Text, "\n  1. CliffDetected [cliff] -> ReactToCliff\n") {
		t.Errorf("plain trigger line missing:\n%s", report.Text)
	}
}

func TestDescribe_DisabledTrigger(t *testing.T) {
	tb := newTestBrain(t, config.Default(), Options{})
	tb.Layer.Disable("test", models.TriggerHiccup)

	report := Describe(tb.Brain, FormatPlain)
	if !strings.Contains(report.Text, "Hiccup [hiccup] -> Hiccup (disabled)") {
		t.Errorf("disabled trigger not marked:\n%s", report.Text)
	}
}
