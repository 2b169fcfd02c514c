package output

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"

	"github.com/canectors/keyhash/internal/database"
	"github.com/canectors/keyhash/internal/errhandling"
	"github.com/canectors/keyhash/pkg/connector"
)

var hashSchema = connector.Schema{Fields: []connector.SchemaField{
	{Name: "hash", Type: connector.FieldTypeString},
	{Name: "plaintext", Type: connector.FieldTypeString},
}}

var sampleRecords = []map[string]interface{}{
	{"plaintext": "john@example.com", "hash": "h1"},
	{"plaintext": "555-1234", "hash": "h2"},
}

func moduleConfig(typ string, cfg map[string]interface{}) *connector.ModuleConfig {
	return &connector.ModuleConfig{Type: typ, Config: cfg}
}

// writeAll runs a full Begin/Write/Finish cycle.
func writeAll(t *testing.T, m Module, attrs map[string]string, records []map[string]interface{}) (string, WriteResult, Writer) {
	t.Helper()
	var buf bytes.Buffer
	w, err := m.Open(context.Background(), Destination{Content: &buf, Attributes: attrs})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := w.Begin(hashSchema); err != nil {
		t.Fatalf("Begin() error: %v", err)
	}
	for _, r := range records {
		if err := w.Write(r); err != nil {
			t.Fatalf("Write() error: %v", err)
		}
	}
	result, err := w.Finish()
	if err != nil {
		t.Fatalf("Finish() error: %v", err)
	}
	return buf.String(), result, w
}

func TestJSONOutput(t *testing.T) {
	m, err := NewJSONOutputFromConfig(moduleConfig("json", nil))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		records []map[string]interface{}
		want    string
	}{
		{"two records", sampleRecords, `[{"hash":"h1","plaintext":"john@example.com"},{"hash":"h2","plaintext":"555-1234"}]`},
		{"no records", nil, `[]`},
		{"extra field after schema", []map[string]interface{}{{"plaintext": "p", "hash": "h", "a": 1}}, `[{"hash":"h","plaintext":"p","a":1}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, result, w := writeAll(t, m, nil, tt.records)
			if got != tt.want {
				t.Errorf("output = %s, want %s", got, tt.want)
			}
			if result.RecordCount != len(tt.records) {
				t.Errorf("RecordCount = %d, want %d", result.RecordCount, len(tt.records))
			}
			if w.MimeType() != MimeTypeJSON {
				t.Errorf("MimeType() = %q", w.MimeType())
			}
		})
	}
}

func TestJSONLOutput(t *testing.T) {
	m, _ := NewJSONLOutputFromConfig(moduleConfig("jsonl", nil))
	got, result, w := writeAll(t, m, nil, sampleRecords)

	want := "{\"hash\":\"h1\",\"plaintext\":\"john@example.com\"}\n{\"hash\":\"h2\",\"plaintext\":\"555-1234\"}\n"
	if got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
	if result.RecordCount != 2 || w.MimeType() != MimeTypeJSONL {
		t.Errorf("unexpected result %+v / %s", result, w.MimeType())
	}
}

func TestYAMLOutput(t *testing.T) {
	m, _ := NewYAMLOutputFromConfig(moduleConfig("yaml", nil))
	got, result, _ := writeAll(t, m, nil, sampleRecords)

	var decoded []map[string]string
	if err := yaml.Unmarshal([]byte(got), &decoded); err != nil {
		t.Fatalf("output is not valid YAML: %v\n%s", err, got)
	}
	if len(decoded) != 2 || decoded[1]["plaintext"] != "555-1234" || decoded[0]["hash"] != "h1" {
		t.Errorf("unexpected decoded output %v", decoded)
	}
	if strings.Index(got, "hash:") > strings.Index(got, "plaintext:") {
		t.Errorf("fields should follow schema order:\n%s", got)
	}
	if result.RecordCount != 2 {
		t.Errorf("RecordCount = %d, want 2", result.RecordCount)
	}
}

func TestCSVOutput(t *testing.T) {
	tests := []struct {
		name string
		cfg  map[string]interface{}
		want string
	}{
		{"default", nil, "hash,plaintext\nh1,john@example.com\nh2,555-1234\n"},
		{"tab without header", map[string]interface{}{"delimiter": "\t", "header": false}, "h1\tjohn@example.com\nh2\t555-1234\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewCSVOutputFromConfig(moduleConfig("csv", tt.cfg))
			if err != nil {
				t.Fatal(err)
			}
			got, _, _ := writeAll(t, m, nil, sampleRecords)
			if got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}

	m, _ := NewCSVOutputFromConfig(moduleConfig("csv", nil))
	w, _ := m.Open(context.Background(), Destination{Content: &bytes.Buffer{}})
	if err := w.Begin(connector.Schema{}); !errors.Is(err, errhandling.ErrWrite) {
		t.Errorf("Begin() with empty schema = %v, want write error", err)
	}
}

func TestMsgpackOutput(t *testing.T) {
	m, _ := NewMsgpackOutputFromConfig(moduleConfig("msgpack", nil))
	got, result, _ := writeAll(t, m, nil, sampleRecords)
	if result.RecordCount != 2 {
		t.Errorf("RecordCount = %d, want 2", result.RecordCount)
	}

	dec := msgpack.NewDecoder(strings.NewReader(got))
	for i, want := range sampleRecords {
		n, err := dec.DecodeMapLen()
		if err != nil || n != 2 {
			t.Fatalf("record %d: map len %d, err %v", i, n, err)
		}
		for _, key := range []string{"hash", "plaintext"} {
			k, err := dec.DecodeString()
			if err != nil || k != key {
				t.Fatalf("record %d: key %q, want %q (err %v)", i, k, key, err)
			}
			v, err := dec.DecodeString()
			if err != nil || v != want[key] {
				t.Errorf("record %d: %s = %q, want %q", i, key, v, want[key])
			}
		}
	}
}

func TestWriterLifecycle(t *testing.T) {
	m, _ := NewJSONOutputFromConfig(moduleConfig("json", nil))
	w, _ := m.Open(context.Background(), Destination{Content: &bytes.Buffer{}})

	if err := w.Write(sampleRecords[0]); !errors.Is(err, ErrNotBegun) {
		t.Errorf("Write() before Begin = %v, want ErrNotBegun", err)
	}
	if err := w.Begin(hashSchema); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Finish(); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Finish(); !errors.Is(err, ErrAlreadyFinished) {
		t.Errorf("second Finish() = %v, want ErrAlreadyFinished", err)
	}
	if err := w.Write(sampleRecords[0]); !errors.Is(err, errhandling.ErrWrite) {
		t.Errorf("Write() after Finish = %v, want write error", err)
	}
}

func TestDatabaseOutputCommit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.db")
	m, err := NewDatabaseOutputFromConfig(moduleConfig("database", map[string]interface{}{
		"path":  path,
		"table": "tokens_{{team}}",
	}))
	if err != nil {
		t.Fatalf("NewDatabaseOutputFromConfig() error: %v", err)
	}
	defer func() { _ = m.Close() }()

	got, result, w := writeAll(t, m, map[string]string{"team": "blue"}, sampleRecords)
	if got != "" {
		t.Errorf("database writer should produce no content, got %q", got)
	}
	if w.MimeType() != "" {
		t.Errorf("MimeType() = %q, want empty", w.MimeType())
	}
	if result.RecordCount != 2 || result.Attributes[AttrDatabaseTable] != "tokens_blue" {
		t.Errorf("unexpected result %+v", result)
	}

	var count int
	if err := m.db.QueryRow(`SELECT count(*) FROM "tokens_blue" WHERE plaintext = ?`, "555-1234").Scan(&count); err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestDatabaseOutputAbortRollsBack(t *testing.T) {
	m, err := NewDatabaseOutputFromConfig(moduleConfig("database", map[string]interface{}{
		"path":  filepath.Join(t.TempDir(), "out.db"),
		"table": "tokens",
	}))
	if err != nil {
		t.Fatalf("NewDatabaseOutputFromConfig() error: %v", err)
	}
	defer func() { _ = m.Close() }()

	w, err := m.Open(context.Background(), Destination{Content: &bytes.Buffer{}})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Begin(hashSchema); err != nil {
		t.Fatal(err)
	}
	if err := w.Write(sampleRecords[0]); err != nil {
		t.Fatal(err)
	}
	if err := w.Abort(); err != nil {
		t.Fatalf("Abort() error: %v", err)
	}

	var tables int
	if err := m.db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'tokens'`).Scan(&tables); err != nil {
		t.Fatalf("query: %v", err)
	}
	if tables != 0 {
		t.Error("rolled back transaction should not leave the table behind")
	}
}

func TestDatabaseOutputInsertError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.db")
	db, err := database.Open(database.Config{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`CREATE TABLE tokens (hash TEXT UNIQUE, plaintext TEXT)`); err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	m, err := NewDatabaseOutputFromConfig(moduleConfig("database", map[string]interface{}{"path": path, "table": "tokens"}))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = m.Close() }()

	w, _ := m.Open(context.Background(), Destination{Content: &bytes.Buffer{}})
	if err := w.Begin(hashSchema); err != nil {
		t.Fatal(err)
	}
	if err := w.Write(sampleRecords[0]); err != nil {
		t.Fatal(err)
	}
	err = w.Write(sampleRecords[0])
	if !errors.Is(err, errhandling.ErrWrite) {
		t.Fatalf("duplicate insert = %v, want write error", err)
	}
	if dbErr := database.GetDatabaseError(err); dbErr == nil || dbErr.Category != database.CategoryConstraint {
		t.Errorf("expected constraint database error, got %v", err)
	}
	if err := w.Abort(); err != nil {
		t.Errorf("Abort() error: %v", err)
	}
}

func TestDatabaseOutputConfigErrors(t *testing.T) {
	if _, err := NewDatabaseOutputFromConfig(moduleConfig("database", map[string]interface{}{"path": ":memory:"})); !errors.Is(err, ErrDatabaseOutputMissingTable) {
		t.Errorf("expected ErrDatabaseOutputMissingTable, got %v", err)
	}
	if _, err := NewDatabaseOutputFromConfig(moduleConfig("database", map[string]interface{}{"table": "t"})); !errors.Is(err, errhandling.ErrConfiguration) {
		t.Errorf("expected configuration error for missing path, got %v", err)
	}
	if _, err := NewDatabaseOutputFromConfig(nil); !errors.Is(err, ErrNilConfig) {
		t.Errorf("expected ErrNilConfig, got %v", err)
	}
}
