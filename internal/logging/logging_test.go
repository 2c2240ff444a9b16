package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew_Formats(t *testing.T) {
	var text bytes.Buffer
	logger, err := New(&text, LevelInfo, FormatText)
	if err != nil {
		t.Fatalf("New(text) error = %v", err)
	}
	logger.Info("Step finished.", "step", "SdkBuildsStep")
	if !strings.Contains(text.String(), "step=SdkBuildsStep") {
		t.Fatalf("text output = %q, want step attribute", text.String())
	}

	var js bytes.Buffer
	logger, err = New(&js, LevelInfo, FormatJSON)
	if err != nil {
		t.Fatalf("New(json) error = %v", err)
	}
	logger.Info("Step finished.", "step", "SdkBuildsStep")
	var line map[string]any
	if err := json.Unmarshal(js.Bytes(), &line); err != nil {
		t.Fatalf("json output not decodable: %v", err)
	}
	if line["step"] != "SdkBuildsStep" {
		t.Errorf("step = %v, want SdkBuildsStep", line["step"])
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, LevelWarn, FormatText)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info written at warn level: %q", buf.String())
	}
}

func TestNew_Invalid(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, "loud", FormatText); err == nil {
		t.Fatal("expected error for invalid level")
	}
	if _, err := New(&bytes.Buffer{}, LevelInfo, "xml"); err == nil {
		t.Fatal("expected error for invalid format")
	}
	if ValidLevel("loud") {
		t.Fatal("ValidLevel(loud) = true")
	}
	if !ValidLevel(" DEBUG ") {
		t.Fatal("ValidLevel(DEBUG) = false")
	}
}
