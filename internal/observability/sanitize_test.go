package observability

import (
	"strings"
	"testing"
)

const sampleKey = "3f1c9a0e5b7d2f4a6c8e0b1d3f5a7c9e1b3d5f7a9c0e2b4d6f8a0c2e4b6d8f0a"

func TestContainsCredential(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{name: "project api key", input: sampleKey, want: true},
		{name: "api key header", input: "x-api-key: abcdefghijkl", want: true},
		{name: "admin key header", input: "X-Tracehub-Admin-Key=opstoken1", want: true},
		{name: "bearer", input: "Bearer abcdefghijklmnop", want: true},
		{name: "postgres dsn", input: "postgres://tracehub:hunter22@db:5432/tracehub", want: true},
		{name: "password pair", input: "host=db password=supersecret", want: true},

		{name: "short", input: "ok", want: false},
		{name: "empty", input: "", want: false},
		{name: "trace id", input: "4bf92f3577b34da6a3ce929d0e0e4736", want: false},
		{name: "span id", input: "00f067aa0ba902b7", want: false},
		{name: "project id", input: "0b6f1c9e-7f8e-4a53-9a55-1d2f3c4b5a69", want: false},
		{name: "route", input: "/api/v1/get-traces", want: false},
		{name: "dsn without password", input: "postgres://db:5432/tracehub", want: false},
		{name: "status", input: "http 502", want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ContainsCredential(tt.input); got != tt.want {
				t.Fatalf("ContainsCredential(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestScrubCredentials(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "api key in message",
			input: "rejected key " + sampleKey,
			want:  "rejected key " + credentialRedacted,
		},
		{
			name:  "dsn keeps user",
			input: "connect postgres://tracehub:hunter22@db:5432/tracehub failed",
			want:  "connect postgres://tracehub:" + credentialRedacted + "@db:5432/tracehub failed",
		},
		{
			name:  "clean passes through",
			input: "connection refused",
			want:  "connection refused",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ScrubCredentials(tt.input); got != tt.want {
				t.Fatalf("ScrubCredentials(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestScrubCredentialsRemovesEveryKey(t *testing.T) {
	t.Parallel()

	input := "a=" + sampleKey + " b=" + strings.ToUpper(sampleKey)
	got := ScrubCredentials(input)
	if strings.Contains(got, sampleKey) || strings.Contains(got, strings.ToUpper(sampleKey)) {
		t.Fatalf("ScrubCredentials() = %q, still contains a key", got)
	}
}
