package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseFile(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		wantFormat string
		wantErr    string
	}{
		{"json", "testdata/valid-config.json", FormatJSON, ""},
		{"yaml", "testdata/valid-config.yaml", FormatYAML, ""},
		{"json syntax error", "testdata/invalid-syntax.json", FormatJSON, ErrorTypeSyntax},
		{"yaml syntax error", "testdata/invalid-syntax.yaml", FormatYAML, ErrorTypeSyntax},
		{"missing file", "testdata/does-not-exist.json", FormatJSON, ErrorTypeIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseFile(tt.path)
			if result.Format != tt.wantFormat {
				t.Errorf("Format = %q, want %q", result.Format, tt.wantFormat)
			}
			if tt.wantErr == "" {
				if !result.IsValid() {
					t.Fatalf("unexpected errors: %v", result.Errors)
				}
				if result.Data["connector"] == nil {
					t.Error("expected connector section in parsed data")
				}
				return
			}
			if result.IsValid() {
				t.Fatal("expected parse errors")
			}
			if result.Errors[0].Type != tt.wantErr {
				t.Errorf("error type = %q, want %q", result.Errors[0].Type, tt.wantErr)
			}
			if result.Errors[0].Path != tt.path {
				t.Errorf("error path = %q, want %q", result.Errors[0].Path, tt.path)
			}
		})
	}
}

func TestParseFile_SyntaxErrorLocation(t *testing.T) {
	result := ParseFile("testdata/invalid-syntax.yaml")
	if result.IsValid() {
		t.Fatal("expected parse error")
	}
	if result.Errors[0].Line == 0 {
		t.Errorf("expected line number, got %+v", result.Errors[0])
	}

	jsonResult := ParseJSONString("{\n  \"a\": 1,\n  \"b\": }")
	if jsonResult.IsValid() {
		t.Fatal("expected parse error")
	}
	if got := jsonResult.Errors[0]; got.Line != 3 || got.Offset == 0 {
		t.Errorf("expected line 3 with offset, got %+v", got)
	}
}

func TestParseFile_DetectsFormatFromContent(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "pipeline.conf")
	yamlPath := filepath.Join(dir, "pipeline.txt")
	if err := os.WriteFile(jsonPath, []byte(`{"schemaVersion": "1.0.0"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(yamlPath, []byte("schemaVersion: \"1.0.0\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if got := ParseFile(jsonPath).Format; got != FormatJSON {
		t.Errorf("format = %q, want json", got)
	}
	if got := ParseFile(yamlPath).Format; got != FormatYAML {
		t.Errorf("format = %q, want yaml", got)
	}
}

func TestParseString_NonObjectDocuments(t *testing.T) {
	tests := []struct {
		name    string
		result  *ParseResult
		wantErr string
	}{
		{"json array", ParseJSONString(`[1, 2]`), ErrorTypeFormat},
		{"json null", ParseJSONString(`null`), ErrorTypeFormat},
		{"json empty", ParseJSONString("  "), ErrorTypeSyntax},
		{"yaml scalar", ParseYAMLString("just a string"), ErrorTypeFormat},
		{"yaml comments only", ParseYAMLString("# nothing here\n"), ErrorTypeFormat},
		{"yaml empty", ParseYAMLString(""), ErrorTypeSyntax},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.result.IsValid() {
				t.Fatal("expected an error")
			}
			if tt.result.Errors[0].Type != tt.wantErr {
				t.Errorf("type = %q, want %q (%v)", tt.result.Errors[0].Type, tt.wantErr, tt.result.Errors[0])
			}
		})
	}
}

func TestDetectFormat(t *testing.T) {
	tests := map[string]string{
		"pipeline.json": FormatJSON,
		"PIPELINE.JSON": FormatJSON,
		"pipeline.yaml": FormatYAML,
		"pipeline.yml":  FormatYAML,
		"pipeline.toml": "",
		"pipeline":      "",
	}
	for path, want := range tests {
		if got := DetectFormat(path); got != want {
			t.Errorf("DetectFormat(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestParseConfigString(t *testing.T) {
	content, err := os.ReadFile("testdata/valid-config.yaml")
	if err != nil {
		t.Fatal(err)
	}

	result := ParseConfigString(string(content), "")
	if !result.IsValid() {
		t.Fatalf("unexpected errors: %v", result.AllErrors())
	}
	if result.Format != FormatYAML {
		t.Errorf("format = %q, want yaml", result.Format)
	}

	if result := ParseConfigString("{}", "toml"); len(result.ParseErrors) == 0 {
		t.Error("expected unsupported format error")
	}
}

func TestParseConfig_SkipsValidationOnParseError(t *testing.T) {
	result := ParseConfig("testdata/invalid-syntax.json")
	if len(result.ParseErrors) == 0 {
		t.Fatal("expected parse errors")
	}
	if len(result.ValidationErrors) != 0 {
		t.Errorf("validation should not run, got %v", result.ValidationErrors)
	}
}

func TestParseError_Error(t *testing.T) {
	err := ParseError{Path: "a.json", Line: 3, Column: 7, Message: "unexpected token"}
	if got := err.Error(); got != "a.json: line 3, column 7: unexpected token" {
		t.Errorf("Error() = %q", got)
	}
	if got := (ParseError{Message: "boom"}).Error(); !strings.HasSuffix(got, "boom") || strings.Contains(got, "line") {
		t.Errorf("Error() = %q", got)
	}
}
