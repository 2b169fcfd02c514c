package pathutil

import (
	"testing"
)

func TestValidateFlowFileName(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		wantErr  bool
	}{
		{"empty", "", true},
		{"null byte", "a\x00b", true},
		{"parent only", "..", true},
		{"leading traversal", "../people.json", true},
		{"middle traversal", "out/../people.json", true},
		{"backslash traversal", `out\..\people.json`, true},
		{"absolute", "/etc/passwd", true},
		{"absolute backslash", `\etc\passwd`, true},
		{"drive letter", `C:\people.json`, true},
		{"current dir", ".", true},
		{"trailing slash", "out/", true},
		{"single name", "people.json", false},
		{"nested", "2024/06/people.json", false},
		{"dotted name", "..people.json", false},
		{"hidden file", ".people.json", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFlowFileName(tt.filename)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFlowFileName(%q) err = %v, wantErr %v", tt.filename, err, tt.wantErr)
			}
		})
	}
}

func TestPrefixedName(t *testing.T) {
	tests := []struct {
		filename string
		id       string
		want     string
	}{
		{"people.json", "u1", "u1-people.json"},
		{"a/people.json", "u1", "a/u1-people.json"},
		{"a/b/people", "u2", "a/b/u2-people"},
	}
	for _, tt := range tests {
		if got := PrefixedName(tt.filename, tt.id); got != tt.want {
			t.Errorf("PrefixedName(%q, %q) = %q, want %q", tt.filename, tt.id, got, tt.want)
		}
		if err := ValidateFlowFileName(PrefixedName(tt.filename, tt.id)); err != nil {
			t.Errorf("PrefixedName(%q) is not a valid filename: %v", tt.filename, err)
		}
	}
}
