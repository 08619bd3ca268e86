package daemon

import "testing"

func TestPushURL(t *testing.T) {
	tests := []struct {
		name   string
		server string
		want   string
	}{
		{"plain http", "http://localhost:8000", "ws://localhost:8000/ws/7?token=tok"},
		{"https upgrades to wss", "https://chat.example.com", "wss://chat.example.com/ws/7?token=tok"},
		{"trailing slash", "http://localhost:8000/", "ws://localhost:8000/ws/7?token=tok"},
		{"base path", "https://example.com/chat", "wss://example.com/chat/ws/7?token=tok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pushURL(tt.server, 7, "tok"); got != tt.want {
				t.Errorf("pushURL(%q) = %q, want %q", tt.server, got, tt.want)
			}
		})
	}
}
