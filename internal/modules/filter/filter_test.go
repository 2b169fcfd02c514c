package filter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/canectors/keyhash/internal/errhandling"
)

func mustCondition(t *testing.T, config ConditionConfig) *ConditionModule {
	t.Helper()
	m, err := NewConditionFromConfig(config)
	if err != nil {
		t.Fatalf("NewConditionFromConfig() error: %v", err)
	}
	return m
}

func TestConditionExpressions(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		record     map[string]interface{}
		wantPass   bool
	}{
		{"string equality match", "status == 'active'", map[string]interface{}{"status": "active"}, true},
		{"string equality no match", "status == 'active'", map[string]interface{}{"status": "inactive"}, false},
		{"number comparison", "age >= 18", map[string]interface{}{"age": int64(21)}, true},
		{"logical and", "age >= 18 && country == 'FR'", map[string]interface{}{"age": 30, "country": "US"}, false},
		{"nested field", "user.profile.verified", map[string]interface{}{"user": map[string]interface{}{"profile": map[string]interface{}{"verified": true}}}, true},
		{"missing field is nil", "email != nil", map[string]interface{}{"name": "x"}, false},
		{"truthy string", "email", map[string]interface{}{"email": "a@example.com"}, true},
		{"empty string is falsy", "email", map[string]interface{}{"email": ""}, false},
		{"array length", "len(phones) > 1", map[string]interface{}{"phones": []interface{}{"1", "2"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := mustCondition(t, ConditionConfig{Expression: tt.expression})
			got, err := m.Process(context.Background(), tt.record)
			if err != nil {
				t.Fatalf("Process() error: %v", err)
			}
			if (got != nil) != tt.wantPass {
				t.Errorf("Process() kept = %v, want %v", got != nil, tt.wantPass)
			}
		})
	}
}

func TestConditionRouting(t *testing.T) {
	record := map[string]interface{}{"active": true}
	tests := []struct {
		name     string
		config   ConditionConfig
		wantKeep bool
	}{
		{"default keeps true", ConditionConfig{Expression: "active"}, true},
		{"default drops false", ConditionConfig{Expression: "!active"}, false},
		{"onTrue skip", ConditionConfig{Expression: "active", OnTrue: OnConditionSkip}, false},
		{"onFalse continue", ConditionConfig{Expression: "!active", OnFalse: OnConditionContinue}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mustCondition(t, tt.config).Process(context.Background(), record)
			if err != nil {
				t.Fatalf("Process() error: %v", err)
			}
			if (got != nil) != tt.wantKeep {
				t.Errorf("kept = %v, want %v", got != nil, tt.wantKeep)
			}
		})
	}
}

func TestConditionConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		config  ConditionConfig
		wantErr error
	}{
		{"empty expression", ConditionConfig{Expression: "  "}, ErrEmptyExpression},
		{"syntax error", ConditionConfig{Expression: "status == "}, ErrInvalidExpression},
		{"unsupported lang", ConditionConfig{Expression: "a", Lang: "cel"}, ErrUnsupportedLang},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConditionFromConfig(tt.config)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := NewConditionFromConfig(ConditionConfig{Expression: "a", OnTrue: "route"}); err == nil {
		t.Error("expected error for invalid onTrue")
	}
}

func TestConditionEvaluationError(t *testing.T) {
	m := mustCondition(t, ConditionConfig{Expression: "name + 1 > 0"})
	_, err := m.Process(context.Background(), map[string]interface{}{"name": "x"})
	if !errors.Is(err, errhandling.ErrTransform) {
		t.Fatalf("expected transform error, got %v", err)
	}
	var condErr *ConditionError
	if !errors.As(err, &condErr) || condErr.Code != ErrCodeEvaluationFailed {
		t.Errorf("expected ConditionError with %s, got %v", ErrCodeEvaluationFailed, err)
	}
}

func TestParseConditionConfig(t *testing.T) {
	cfg, err := ParseConditionConfig(map[string]interface{}{
		"expression": "status == 'active'",
		"onFalse":    "continue",
	})
	if err != nil {
		t.Fatalf("ParseConditionConfig() error: %v", err)
	}
	if cfg.Expression != "status == 'active'" || cfg.OnFalse != OnConditionContinue {
		t.Errorf("unexpected config %+v", cfg)
	}

	if _, err := ParseConditionConfig(map[string]interface{}{}); err == nil {
		t.Error("expected error for missing expression")
	}
}

func mustScript(t *testing.T, source string) *ScriptModule {
	t.Helper()
	m, err := NewScriptFromConfig(ScriptConfig{Script: source})
	if err != nil {
		t.Fatalf("NewScriptFromConfig() error: %v", err)
	}
	return m
}

func TestScriptTransform(t *testing.T) {
	m := mustScript(t, `function transform(record) {
		return { email: record.email.toLowerCase(), source: "script" };
	}`)

	got, err := m.Process(context.Background(), map[string]interface{}{"email": "John@Example.COM"})
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if got["email"] != "john@example.com" || got["source"] != "script" {
		t.Errorf("unexpected record %v", got)
	}
}

func TestScriptDropsOnNull(t *testing.T) {
	m := mustScript(t, `function transform(record) {
		if (!record.email) { return null; }
		return record;
	}`)

	got, err := m.Process(context.Background(), map[string]interface{}{"name": "no email"})
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if got != nil {
		t.Errorf("expected record to be dropped, got %v", got)
	}

	kept, err := m.Process(context.Background(), map[string]interface{}{"email": "a@example.com"})
	if err != nil || kept == nil {
		t.Errorf("expected record to be kept, got %v (err %v)", kept, err)
	}
}

func TestScriptErrors(t *testing.T) {
	tests := []struct {
		name     string
		source   string
		wantCode string
	}{
		{"throws", `function transform(r) { throw new Error("boom"); }`, ErrCodeExecutionFailed},
		{"returns array", `function transform(r) { return [r]; }`, ErrCodeExecutionFailed},
		{"returns number", `function transform(r) { return 42; }`, ErrCodeExecutionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mustScript(t, tt.source).Process(context.Background(), map[string]interface{}{"a": 1})
			if !errors.Is(err, errhandling.ErrTransform) {
				t.Fatalf("expected transform error, got %v", err)
			}
			var scriptErr *ScriptError
			if !errors.As(err, &scriptErr) || scriptErr.Code != tt.wantCode {
				t.Errorf("expected ScriptError %s, got %v", tt.wantCode, err)
			}
		})
	}
}

func TestScriptConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		config  ScriptConfig
		wantErr error
	}{
		{"empty", ScriptConfig{Script: "   "}, ErrScriptEmpty},
		{"too long", ScriptConfig{Script: strings.Repeat("a", MaxScriptLength+1)}, ErrScriptTooLong},
		{"missing transform", ScriptConfig{Script: "var x = 1;"}, ErrMissingTransformFunc},
		{"transform not function", ScriptConfig{Script: "var transform = 1;"}, ErrTransformNotFunction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewScriptFromConfig(tt.config)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	_, err := NewScriptFromConfig(ScriptConfig{Script: "function transform( {"})
	var scriptErr *ScriptError
	if !errors.As(err, &scriptErr) || scriptErr.Code != ErrCodeCompilationFailed {
		t.Errorf("expected compilation failure, got %v", err)
	}

	_, err = NewScriptFromConfig(ScriptConfig{ScriptFile: "../outside.js"})
	if !errors.As(err, &scriptErr) || scriptErr.Code != ErrCodeInvalidScriptFile {
		t.Errorf("expected invalid script file, got %v", err)
	}
}

func TestScriptFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transform.js")
	if err := os.WriteFile(path, []byte(`function transform(r) { r.seen = true; return r; }`), 0o600); err != nil {
		t.Fatal(err)
	}

	m, err := NewScriptFromConfig(ScriptConfig{ScriptFile: path})
	if err != nil {
		t.Fatalf("NewScriptFromConfig() error: %v", err)
	}
	got, err := m.Process(context.Background(), map[string]interface{}{})
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if got["seen"] != true {
		t.Errorf("unexpected record %v", got)
	}
}

func TestScriptConcurrentUse(t *testing.T) {
	m := mustScript(t, `function transform(r) { return { n: r.n * 2 }; }`)

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int64) {
			defer wg.Done()
			got, err := m.Process(context.Background(), map[string]interface{}{"n": n})
			if err != nil {
				errs <- err
				return
			}
			if got["n"] != n*2 {
				errs <- errors.New("wrong result")
			}
		}(int64(i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestScriptInterruptedByContext(t *testing.T) {
	m := mustScript(t, `function transform(r) { while (true) {} }`)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := m.Process(ctx, map[string]interface{}{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestScriptTimeout(t *testing.T) {
	m, err := NewScriptFromConfig(ScriptConfig{
		Script:  `function transform(r) { if (r.spin) { while (true) {} } return r; }`,
		Timeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewScriptFromConfig() error: %v", err)
	}

	_, err = m.Process(context.Background(), map[string]interface{}{"spin": true})
	if !errors.Is(err, ErrScriptTimeout) {
		t.Fatalf("expected script timeout, got %v", err)
	}
	if errhandling.GetErrorCategory(err) != errhandling.CategoryTransform {
		t.Errorf("category = %s, want transform", errhandling.GetErrorCategory(err))
	}
	var scriptErr *ScriptError
	if !errors.As(err, &scriptErr) || scriptErr.Code != ErrCodeScriptTimeout {
		t.Errorf("expected %s script error, got %v", ErrCodeScriptTimeout, err)
	}

	// The interrupted runtime goes back to the pool in a usable state.
	out, err := m.Process(context.Background(), map[string]interface{}{"name": "a"})
	if err != nil || out["name"] != "a" {
		t.Errorf("module unusable after timeout: %v, %v", out, err)
	}

	if _, err := NewScriptFromConfig(ScriptConfig{Script: "function transform(r) { return r; }", Timeout: -time.Second}); err == nil {
		t.Error("expected error for negative timeout")
	}
}

func TestParseScriptConfig(t *testing.T) {
	if _, err := ParseScriptConfig(map[string]interface{}{"script": "a", "scriptFile": "b"}); err == nil {
		t.Error("expected error when both script and scriptFile are set")
	}
	if _, err := ParseScriptConfig(map[string]interface{}{"script": 12}); err == nil {
		t.Error("expected error for non-string script")
	}
	cfg, err := ParseScriptConfig(map[string]interface{}{"scriptFile": "t.js"})
	if err != nil || cfg.ScriptFile != "t.js" {
		t.Errorf("unexpected result %+v, %v", cfg, err)
	}

	cfg, err = ParseScriptConfig(map[string]interface{}{"script": "a", "timeout": "250ms"})
	if err != nil || cfg.Timeout != 250*time.Millisecond {
		t.Errorf("unexpected result %+v, %v", cfg, err)
	}
	for _, bad := range []interface{}{"fast", "-1s", "0s", 5} {
		if _, err := ParseScriptConfig(map[string]interface{}{"script": "a", "timeout": bad}); err == nil {
			t.Errorf("expected error for timeout %v", bad)
		}
	}
}

func TestApply(t *testing.T) {
	stages := []Module{
		mustCondition(t, ConditionConfig{Expression: "status == 'active'"}),
		mustScript(t, `function transform(r) { return { email: r.email, tagged: true }; }`),
	}

	got, err := Apply(context.Background(), stages, map[string]interface{}{"status": "active", "email": "a@example.com"})
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if got["tagged"] != true || got["email"] != "a@example.com" {
		t.Errorf("unexpected record %v", got)
	}

	dropped, err := Apply(context.Background(), stages, map[string]interface{}{"status": "deleted"})
	if err != nil || dropped != nil {
		t.Errorf("expected drop, got %v (err %v)", dropped, err)
	}

	same, err := Apply(context.Background(), nil, map[string]interface{}{"a": 1})
	if err != nil || same["a"] != 1 {
		t.Errorf("no stages should pass the record through, got %v", same)
	}
}
