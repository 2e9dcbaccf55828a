package stt

import "testing"

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{RecognitionStarted, "RecognitionStarted"},
		{Transcript, "Transcript"},
		{PartialTranscript, "PartialTranscript"},
		{EndOfTranscript, "EndOfTranscript"},
		{Error, "Error"},
		{Unhandled, "Unhandled"},
		{Kind(99), "Unhandled"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no sample rate", func(c *Config) { c.SampleRateHz = 0 }},
		{"no chunk size", func(c *Config) { c.ChunkSizeBytes = -1 }},
		{"no language", func(c *Config) { c.LanguageCode = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
