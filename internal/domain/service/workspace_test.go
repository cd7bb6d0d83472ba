package service

import "testing"

func TestDeriveWorkspace(t *testing.T) {
	tests := []struct {
		name         string
		bodyValue    string
		headerValue  string
		systemPrompt string
		want         string
	}{
		{
			name:         "body field wins",
			bodyValue:    "proj-a",
			headerValue:  "proj-b",
			systemPrompt: "workspace: proj-c",
			want:         "proj-a",
		},
		{
			name:         "header when body empty",
			headerValue:  "proj-b",
			systemPrompt: "workspace: proj-c",
			want:         "proj-b",
		},
		{
			name:         "system prompt declaration",
			systemPrompt: "You are a helpful assistant.\nworkspace: acme-api\nBe concise.",
			want:         "acme-api",
		},
		{
			name:         "project keyword with equals",
			systemPrompt: `Current project = "frontend"`,
			want:         "frontend",
		},
		{
			name:         "first declaration wins",
			systemPrompt: "workspace: first\nworkspace: second",
			want:         "first",
		},
		{
			name: "fallback to default",
			want: "default",
		},
		{
			name:      "illegal characters sanitized",
			bodyValue: "my proj/2024",
			want:      "my-proj-2024",
		},
		{
			name:      "dots sanitized",
			bodyValue: "api.v2",
			want:      "api-v2",
		},
		{
			name:      "whitespace only falls back",
			bodyValue: "   ",
			want:      "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveWorkspace(tt.bodyValue, tt.headerValue, tt.systemPrompt)
			if got != tt.want {
				t.Errorf("DeriveWorkspace() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSanitizeWorkspace(t *testing.T) {
	t.Run("truncates long names", func(t *testing.T) {
		long := ""
		for i := 0; i < 100; i++ {
			long += "a"
		}
		got := SanitizeWorkspace(long)
		if len(got) != 64 {
			t.Errorf("expected 64 chars, got %d", len(got))
		}
	})

	t.Run("illegal characters become dashes", func(t *testing.T) {
		if got := SanitizeWorkspace("///"); got != "---" {
			t.Errorf("expected ---, got %q", got)
		}
	})

	t.Run("identity on already-valid names", func(t *testing.T) {
		for _, valid := range []string{"----", "_", "a", "proj-1", "A_b-C"} {
			if got := SanitizeWorkspace(valid); got != valid {
				t.Errorf("SanitizeWorkspace(%q) = %q, want identity", valid, got)
			}
		}
	})

	t.Run("empty falls back to default", func(t *testing.T) {
		if got := SanitizeWorkspace(""); got != "default" {
			t.Errorf("expected default, got %q", got)
		}
	})
}
