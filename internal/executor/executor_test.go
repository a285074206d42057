package executor

import (
	"strings"
	"testing"
)

func TestFilterMarkers(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		output string
	}{
		{
			name:   "plain output untouched",
			input:  "total 4\ndrwxr-xr-x 2 user user 4096 .",
			output: "total 4\ndrwxr-xr-x 2 user user 4096 .",
		},
		{
			name:   "agent lines dropped",
			input:  "real line\n[agent] Run this command?\nanother real line",
			output: "real line\nanother real line",
		},
		{
			name:   "all marker prefixes dropped",
			input:  "[hostpilot] output:\n[agent] note\n[verify] code sent\ndata",
			output: "data",
		},
		{
			name:   "indented marker still dropped",
			input:  "  [agent] indented\nkept",
			output: "kept",
		},
		{
			name:   "marker mid-line kept",
			input:  "the string [agent] appears here",
			output: "the string [agent] appears here",
		},
		{
			name:   "empty input",
			input:  "",
			output: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FilterMarkers(tt.input); got != tt.output {
				t.Errorf("FilterMarkers(%q) = %q, want %q", tt.input, got, tt.output)
			}
		})
	}
}

func TestCaptureBufferBasicWrite(t *testing.T) {
	cb := NewCaptureBuffer(16)
	if _, err := cb.Write([]byte("hello")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := cb.String(); got != "hello" {
		t.Errorf("String() = %q, want %q", got, "hello")
	}
	if got := cb.Len(); got != 5 {
		t.Errorf("Len() = %d, want 5", got)
	}
}

func TestCaptureBufferOverwritesOldest(t *testing.T) {
	cb := NewCaptureBuffer(8)
	if _, err := cb.Write([]byte("abcdefghij")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := cb.String(); got != "cdefghij" {
		t.Errorf("String() = %q, want most recent 8 bytes %q", got, "cdefghij")
	}
	if got := cb.Len(); got != 8 {
		t.Errorf("Len() = %d, want 8", got)
	}
}

func TestCaptureBufferExactlyFull(t *testing.T) {
	cb := NewCaptureBuffer(4)
	if _, err := cb.Write([]byte("wxyz")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := cb.String(); got != "wxyz" {
		t.Errorf("String() = %q, want %q", got, "wxyz")
	}
}

func TestCaptureBufferWrapAround(t *testing.T) {
	cb := NewCaptureBuffer(4)
	for _, chunk := range []string{"ab", "cd", "ef"} {
		if _, err := cb.Write([]byte(chunk)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if got := cb.String(); got != "cdef" {
		t.Errorf("String() = %q, want %q after wrap", got, "cdef")
	}
}

func TestCaptureBufferReset(t *testing.T) {
	cb := NewCaptureBuffer(8)
	if _, err := cb.Write([]byte("data")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	cb.Reset()
	if cb.Len() != 0 || cb.String() != "" {
		t.Errorf("after Reset: Len=%d String=%q, want empty", cb.Len(), cb.String())
	}
}

func TestCaptureBufferLargeWrite(t *testing.T) {
	cb := NewCaptureBuffer(10)
	if _, err := cb.Write([]byte(strings.Repeat("x", 100) + "tail")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	got := cb.String()
	if len(got) != 10 || !strings.HasSuffix(got, "tail") {
		t.Errorf("String() = %q, want 10 bytes ending in tail", got)
	}
}
