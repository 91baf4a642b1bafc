package logging

import "testing"

func TestRedactEmail(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "empty string", input: "", expected: ""},
		{name: "typical address", input: "jane@work.com", expected: "[REDACTED]@work.com"},
		{name: "no at sign", input: "not-an-email", expected: "[REDACTED]"},
		{name: "plus addressing kept on domain side", input: "jane+crm@gmail.com", expected: "[REDACTED]@gmail.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RedactEmail(tt.input); got != tt.expected {
				t.Errorf("RedactEmail(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestRedactPhone(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "empty string", input: "", expected: "[REDACTED]"},
		{name: "e164", input: "+14155551234", expected: "[REDACTED]1234"},
		{name: "formatted with punctuation", input: "(415) 555-1234", expected: "[REDACTED]1234"},
		{name: "fewer than 5 digits stays fully redacted", input: "911", expected: "[REDACTED]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RedactPhone(tt.input); got != tt.expected {
				t.Errorf("RedactPhone(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSanitizeFreeText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "scrubs embedded email",
			input:    "reach out to jane@work.com about the contract",
			expected: "reach out to [REDACTED] about the contract",
		},
		{
			name:     "scrubs embedded phone",
			input:    "call me at 415-555-1234 tomorrow",
			expected: "call me at [REDACTED] tomorrow",
		},
		{
			name:     "no sensitive data",
			input:    "met at the conference, seemed interested in the product",
			expected: "met at the conference, seemed interested in the product",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeFreeText(tt.input); got != tt.expected {
				t.Errorf("SanitizeFreeText(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSanitizeName(t *testing.T) {
	if got := SanitizeName("Jane Smith"); got != "Jane Smith" {
		t.Errorf("SanitizeName should pass short names through unchanged, got %q", got)
	}

	long := ""
	for i := 0; i < MaxQueryLogLength+10; i++ {
		long += "a"
	}
	got := SanitizeName(long)
	if got != long[:MaxQueryLogLength]+"..." {
		t.Errorf("SanitizeName did not truncate long input, got %q", got)
	}
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{name: "empty string", input: "", maxLen: 10, expected: ""},
		{name: "shorter than max", input: "hello", maxLen: 10, expected: "hello"},
		{name: "exactly at max", input: "hello", maxLen: 5, expected: "hello"},
		{name: "longer than max", input: "hello world", maxLen: 5, expected: "hello..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateString(tt.input, tt.maxLen); got != tt.expected {
				t.Errorf("TruncateString(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.expected)
			}
		})
	}
}
