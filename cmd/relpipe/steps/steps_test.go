package stepscmd

import (
	"bytes"
	"strings"
	"testing"

	"relpipe/internal/pipeline"
)

func TestList(t *testing.T) {
	var buf bytes.Buffer
	if err := list(&buf); err != nil {
		t.Fatalf("list() error = %v", err)
	}
	out := buf.String()
	for _, id := range pipeline.AllSteps() {
		if !strings.Contains(out, id.String()) {
			t.Errorf("output is missing %s", id)
		}
	}
	if !strings.Contains(out, "2: Update SDK Version") {
		t.Errorf("output is missing the dispatched job name:\n%s", out)
	}
}
