package ui

import (
	"strings"
	"testing"
)

func TestConfigureInteraction(t *testing.T) {
	if ConfigureInteraction(true) {
		t.Fatal("ConfigureInteraction(true) = interactive")
	}
	t.Setenv(envCI, "true")
	if ConfigureInteraction(false) {
		t.Fatal("ConfigureInteraction() = interactive with CI set")
	}
}

func TestErrorMsg(t *testing.T) {
	ConfigureInteraction(true)
	got := ErrorMsg("error: %v", "boom")
	if !strings.HasSuffix(got, " error: boom") || !strings.HasPrefix(got, "✗") {
		t.Fatalf("ErrorMsg() = %q", got)
	}
}
