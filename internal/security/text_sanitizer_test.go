package security

import "testing"

func TestTextSanitizer_Sanitize(t *testing.T) {
	s := NewTextSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain text unchanged", "Cats sleep 16 hours a day.", "Cats sleep 16 hours a day."},
		{"empty input", "", ""},
		{"inline tags stripped", "Cats <b>sleep</b> a <em>lot</em>.", "Cats sleep a lot."},
		{"script removed with content", "<script>alert(1)</script>A fact.", "A fact."},
		{"event handler removed", `<img src="x" onerror="alert(1)">A fact.`, "A fact."},
		{"entities restored", "Cats &amp; dogs", "Cats & dogs"},
		{"surrounding whitespace trimmed", "  A fact.  ", "A fact."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTextSanitizer_Idempotent(t *testing.T) {
	s := NewTextSanitizer()

	input := "Cats <i>purr</i> at 25 Hz."
	first := s.Sanitize(input)
	second := s.Sanitize(first)
	if first != second {
		t.Errorf("Sanitize is not idempotent: %q != %q", first, second)
	}
}

func TestTextSanitizerInterface(t *testing.T) {
	var _ TextSanitizer = NewTextSanitizer()
}
