package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid simple", "main", false},
		{"valid with numbers", "work123", false},
		{"valid with hyphen", "my-session", false},
		{"valid with underscore", "my_session", false},
		{"valid single char", "a", false},
		{"empty", "", true},
		{"uppercase", "Main", true},
		{"space", "my session", true},
		{"dot", "my.session", true},
		{"too long", strings.Repeat("a", 65), true},
		{"special chars", "my@session", true},
		{"slash", "my/session", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestDir(t *testing.T) {
	home, _ := os.UserHomeDir()
	got := Dir("main")
	want := filepath.Join(home, ".chatterd", "sessions", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestPathsLiveUnderSessionDir(t *testing.T) {
	for _, tt := range []struct {
		got    string
		suffix string
	}{
		{LockPath("test"), filepath.Join("sessions", "test", "LOCK")},
		{CredentialsPath("test"), filepath.Join("sessions", "test", "credentials.toml")},
		{DBPath("test"), filepath.Join("sessions", "test", "chatterd.db")},
		{LogPath("test"), filepath.Join("sessions", "test", "logs", "chatterd.log")},
	} {
		if !strings.HasSuffix(tt.got, tt.suffix) {
			t.Errorf("path %q, want suffix %q", tt.got, tt.suffix)
		}
	}
}

func TestCredentialsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "credentials.toml")

	s := &Session{UserID: 42, Token: "tok-abc"}
	if err := SaveCredentials(path, s); err != nil {
		t.Fatalf("SaveCredentials() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}

	loaded, err := LoadCredentials(path)
	if err != nil {
		t.Fatalf("LoadCredentials() error = %v", err)
	}
	if loaded.UserID != 42 || loaded.Token != "tok-abc" {
		t.Errorf("loaded = %+v", loaded)
	}
}

func TestLoadCredentialsRejectsIncomplete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.toml")
	if err := os.WriteFile(path, []byte(`user_id = 42`), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCredentials(path); err == nil {
		t.Error("expected error for credentials without a token")
	}
}

func TestResolvePrecedence(t *testing.T) {
	if got := Resolve("override"); got != "override" {
		t.Errorf("Resolve(override) = %q", got)
	}
	// Without an override the result is the config default or "main"; either
	// way it must be a valid session name.
	if err := ValidateName(Resolve("")); err != nil {
		t.Errorf("Resolve(\"\") returned an invalid name: %v", err)
	}
}
