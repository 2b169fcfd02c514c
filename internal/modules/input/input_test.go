package input

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/canectors/keyhash/internal/database"
	"github.com/canectors/keyhash/internal/errhandling"
	"github.com/canectors/keyhash/pkg/connector"
)

// readAll opens m over content and drains the reader.
func readAll(t *testing.T, m Module, content string, attrs map[string]string) ([]map[string]interface{}, connector.Schema, error) {
	t.Helper()
	r, err := m.Open(context.Background(), Source{Content: strings.NewReader(content), Attributes: attrs})
	if err != nil {
		return nil, connector.Schema{}, err
	}
	defer func() { _ = r.Close() }()

	var records []map[string]interface{}
	for {
		record, err := r.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return records, r.Schema(), nil
		}
		if err != nil {
			return records, r.Schema(), err
		}
		records = append(records, record)
	}
}

func moduleConfig(typ string, cfg map[string]interface{}) *connector.ModuleConfig {
	return &connector.ModuleConfig{Type: typ, Config: cfg}
}

func TestJSONInput(t *testing.T) {
	m, err := NewJSONInputFromConfig(moduleConfig("json", nil))
	if err != nil {
		t.Fatalf("NewJSONInputFromConfig() error: %v", err)
	}

	tests := []struct {
		name      string
		content   string
		wantCount int
		wantErr   bool
	}{
		{"array of objects", `[{"name":"John Doe"},{"name":"Jane Doe"}]`, 2, false},
		{"single object", `{"name":"John Doe","age":42}`, 1, false},
		{"empty content", "  \n", 0, false},
		{"empty array", `[]`, 0, false},
		{"array of scalars", `[1, 2]`, 0, true},
		{"scalar document", `"text"`, 0, true},
		{"truncated", `[{"name":`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, _, err := readAll(t, m, tt.content, nil)
			if tt.wantErr {
				if !errors.Is(err, errhandling.ErrMalformedInput) {
					t.Fatalf("expected malformed input error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(records) != tt.wantCount {
				t.Errorf("got %d records, want %d", len(records), tt.wantCount)
			}
		})
	}
}

func TestJSONInputSchema(t *testing.T) {
	m, _ := NewJSONInputFromConfig(moduleConfig("json", nil))
	_, schema, err := readAll(t, m, `{"name":"x","age":3,"tags":["a"],"address":{"city":"Paris"},"active":true,"note":null}`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []connector.SchemaField{
		{Name: "active", Type: connector.FieldTypeBoolean},
		{Name: "address", Type: connector.FieldTypeRecord},
		{Name: "age", Type: connector.FieldTypeNumber},
		{Name: "name", Type: connector.FieldTypeString},
		{Name: "note", Type: connector.FieldTypeAny},
		{Name: "tags", Type: connector.FieldTypeArray},
	}
	if !reflect.DeepEqual(schema.Fields, want) {
		t.Errorf("schema = %+v, want %+v", schema.Fields, want)
	}
}

func TestJSONLInput(t *testing.T) {
	m, err := NewJSONLInputFromConfig(moduleConfig("jsonl", nil))
	if err != nil {
		t.Fatalf("NewJSONLInputFromConfig() error: %v", err)
	}

	records, schema, err := readAll(t, m, "{\"id\":1}\n\n{\"id\":2,\"name\":\"b\"}\n", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if got := schema.FieldNames(); !reflect.DeepEqual(got, []string{"id"}) {
		t.Errorf("schema from first record = %v", got)
	}

	_, _, err = readAll(t, m, "{\"id\":1}\n{oops}\n", nil)
	if !errors.Is(err, errhandling.ErrMalformedInput) {
		t.Fatalf("expected malformed input error, got %v", err)
	}
	if !strings.Contains(err.Error(), "line 2") {
		t.Errorf("error should name the line, got %v", err)
	}
}

func TestJSONLInputLineTooLong(t *testing.T) {
	m, err := NewJSONLInputFromConfig(moduleConfig("jsonl", map[string]interface{}{"maxLineBytes": float64(16)}))
	if err != nil {
		t.Fatalf("NewJSONLInputFromConfig() error: %v", err)
	}
	_, _, err = readAll(t, m, `{"name":"a very long value indeed"}`, nil)
	if !errors.Is(err, errhandling.ErrMalformedInput) {
		t.Fatalf("expected malformed input error, got %v", err)
	}
}

func TestYAMLInput(t *testing.T) {
	m, err := NewYAMLInputFromConfig(moduleConfig("yaml", nil))
	if err != nil {
		t.Fatalf("NewYAMLInputFromConfig() error: %v", err)
	}

	content := `- name: John
  phones: ["555-1234", "555-5678"]
- name: Jane
---
name: Solo
attrs:
  1: one
`
	records, _, err := readAll(t, m, content, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if records[2]["name"] != "Solo" {
		t.Errorf("third record = %v", records[2])
	}
	attrs, ok := records[2]["attrs"].(map[string]interface{})
	if !ok || attrs["1"] != "one" {
		t.Errorf("non-string keys should be normalized, got %#v", records[2]["attrs"])
	}

	_, _, err = readAll(t, m, "- 1\n- 2\n", nil)
	if !errors.Is(err, errhandling.ErrMalformedInput) {
		t.Errorf("expected malformed input for scalar items, got %v", err)
	}
}

func TestCSVInput(t *testing.T) {
	tests := []struct {
		name    string
		cfg     map[string]interface{}
		content string
		want    []map[string]interface{}
		fields  []string
	}{
		{
			name:    "header",
			content: "name,email\nJohn,john@example.com\nJane,\n",
			want: []map[string]interface{}{
				{"name": "John", "email": "john@example.com"},
				{"name": "Jane", "email": ""},
			},
			fields: []string{"name", "email"},
		},
		{
			name:    "semicolon and trim",
			cfg:     map[string]interface{}{"delimiter": ";", "trimSpace": true},
			content: "id; city\n1; Paris \n",
			want:    []map[string]interface{}{{"id": "1", "city": "Paris"}},
			fields:  []string{"id", "city"},
		},
		{
			name:    "no header",
			cfg:     map[string]interface{}{"header": false},
			content: "a,b\n",
			want:    []map[string]interface{}{{"column1": "a", "column2": "b"}},
			fields:  []string{"column1", "column2"},
		},
		{
			name:    "short row",
			content: "a,b\n1\n",
			want:    []map[string]interface{}{{"a": "1", "b": nil}},
			fields:  []string{"a", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewCSVInputFromConfig(moduleConfig("csv", tt.cfg))
			if err != nil {
				t.Fatalf("NewCSVInputFromConfig() error: %v", err)
			}
			records, schema, err := readAll(t, m, tt.content, nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(records, tt.want) {
				t.Errorf("records = %v, want %v", records, tt.want)
			}
			if !reflect.DeepEqual(schema.FieldNames(), tt.fields) {
				t.Errorf("fields = %v, want %v", schema.FieldNames(), tt.fields)
			}
		})
	}
}

func TestCSVInputErrors(t *testing.T) {
	if _, err := NewCSVInputFromConfig(moduleConfig("csv", map[string]interface{}{"delimiter": ";;"})); !errors.Is(err, errhandling.ErrConfiguration) {
		t.Errorf("expected configuration error for multi-char delimiter, got %v", err)
	}

	m, _ := NewCSVInputFromConfig(moduleConfig("csv", nil))
	if _, _, err := readAll(t, m, "a,a\n1,2\n", nil); !errors.Is(err, errhandling.ErrMalformedInput) {
		t.Errorf("expected malformed input for duplicate header, got %v", err)
	}
	if _, _, err := readAll(t, m, "a,b\n1,2,3\n", nil); !errors.Is(err, errhandling.ErrMalformedInput) {
		t.Errorf("expected malformed input for long row, got %v", err)
	}
}

func TestMsgpackInput(t *testing.T) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.Encode(map[string]interface{}{"name": "John", "age": 42}); err != nil {
		t.Fatal(err)
	}
	if err := enc.Encode([]interface{}{
		map[string]interface{}{"name": "Jane"},
		map[string]interface{}{"name": "Jim"},
	}); err != nil {
		t.Fatal(err)
	}

	m, err := NewMsgpackInputFromConfig(moduleConfig("msgpack", nil))
	if err != nil {
		t.Fatalf("NewMsgpackInputFromConfig() error: %v", err)
	}
	records, _, err := readAll(t, m, buf.String(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if records[0]["age"] != int64(42) {
		t.Errorf("loose decoding should yield int64, got %T", records[0]["age"])
	}
	if records[2]["name"] != "Jim" {
		t.Errorf("unexpected third record %v", records[2])
	}

	scalar, _ := msgpack.Marshal("text")
	if _, _, err := readAll(t, m, string(scalar), nil); !errors.Is(err, errhandling.ErrMalformedInput) {
		t.Errorf("expected malformed input for scalar value, got %v", err)
	}
}

func TestDatabaseInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.db")
	db, err := database.Open(database.Config{Path: path})
	if err != nil {
		t.Fatalf("database.Open() error: %v", err)
	}
	for _, stmt := range []string{
		`CREATE TABLE people (id INTEGER PRIMARY KEY, team TEXT, email TEXT)`,
		`INSERT INTO people (team, email) VALUES ('blue', 'a@example.com'), ('red', 'b@example.com'), ('blue', 'c@example.com')`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}
	_ = db.Close()

	m, err := NewDatabaseInputFromConfig(moduleConfig("database", map[string]interface{}{
		"path":  path,
		"query": "SELECT id, email FROM people WHERE team = {{team}} ORDER BY id",
	}))
	if err != nil {
		t.Fatalf("NewDatabaseInputFromConfig() error: %v", err)
	}
	defer func() { _ = m.Close() }()

	records, schema, err := readAll(t, m, "", map[string]string{"team": "blue"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0]["email"] != "a@example.com" || records[1]["email"] != "c@example.com" {
		t.Errorf("unexpected records %v", records)
	}
	want := []connector.SchemaField{
		{Name: "id", Type: connector.FieldTypeNumber},
		{Name: "email", Type: connector.FieldTypeString},
	}
	if !reflect.DeepEqual(schema.Fields, want) {
		t.Errorf("schema = %+v, want %+v", schema.Fields, want)
	}

	// A value that looks like SQL is bound, not spliced.
	records, _, err = readAll(t, m, "", map[string]string{"team": "blue' OR '1'='1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("bound parameter should match nothing, got %d records", len(records))
	}
}

func TestDatabaseInputConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  map[string]interface{}
	}{
		{"missing query", map[string]interface{}{"path": ":memory:"}},
		{"missing path", map[string]interface{}{"query": "SELECT 1"}},
		{"bad template", map[string]interface{}{"path": ":memory:", "query": "SELECT {{x"}},
		{"query file traversal", map[string]interface{}{"path": ":memory:", "queryFile": "../q.sql"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDatabaseInputFromConfig(moduleConfig("database", tt.cfg))
			if !errors.Is(err, errhandling.ErrConfiguration) {
				t.Errorf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestDatabaseInputQueryError(t *testing.T) {
	m, err := NewDatabaseInputFromConfig(moduleConfig("database", map[string]interface{}{
		"path":  ":memory:",
		"query": "SELECT * FROM missing",
	}))
	if err != nil {
		t.Fatalf("NewDatabaseInputFromConfig() error: %v", err)
	}
	defer func() { _ = m.Close() }()

	_, _, err = readAll(t, m, "", nil)
	if !errors.Is(err, errhandling.ErrMalformedInput) {
		t.Fatalf("expected malformed input error, got %v", err)
	}
	if !database.IsDatabaseError(err) {
		t.Errorf("expected database error in chain, got %v", err)
	}
}

func TestReaderHonorsCancellation(t *testing.T) {
	m, _ := NewJSONLInputFromConfig(moduleConfig("jsonl", nil))
	r, err := m.Open(context.Background(), Source{Content: strings.NewReader("{\"a\":1}\n")})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Next() with canceled context = %v, want context.Canceled", err)
	}
}

func TestNilConfig(t *testing.T) {
	if _, err := NewJSONInputFromConfig(nil); !errors.Is(err, ErrNilConfig) {
		t.Errorf("expected ErrNilConfig, got %v", err)
	}
	if _, err := NewDatabaseInputFromConfig(nil); !errors.Is(err, ErrNilConfig) {
		t.Errorf("expected ErrNilConfig, got %v", err)
	}
}
