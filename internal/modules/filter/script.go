package filter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/canectors/keyhash/internal/errhandling"
	"github.com/canectors/keyhash/internal/logger"
)

// Error codes for script module
const (
	ErrCodeScriptEmpty          = "SCRIPT_EMPTY"
	ErrCodeScriptTooLong        = "SCRIPT_TOO_LONG"
	ErrCodeCompilationFailed    = "COMPILATION_FAILED"
	ErrCodeMissingTransform     = "MISSING_TRANSFORM"
	ErrCodeNotFunction          = "NOT_FUNCTION"
	ErrCodeExecutionFailed      = "EXECUTION_FAILED"
	ErrCodeInvalidScriptFile    = "INVALID_SCRIPT_FILE"
	ErrCodeScriptFileReadFailed = "SCRIPT_FILE_READ_FAILED"
	ErrCodeScriptTimeout        = "SCRIPT_TIMEOUT"
)

// MaxScriptLength is the maximum allowed script length in bytes (100KB)
const MaxScriptLength = 100 * 1024

// Common errors for script module
var (
	// ErrScriptEmpty is returned when the script is empty or whitespace-only
	ErrScriptEmpty = errors.New("script cannot be empty")
	// ErrScriptTooLong is returned when the script exceeds MaxScriptLength
	ErrScriptTooLong = errors.New("script exceeds maximum length")
	// ErrMissingTransformFunc is returned when the script doesn't define a transform function
	ErrMissingTransformFunc = errors.New("transform function not found in script")
	// ErrTransformNotFunction is returned when transform is defined but is not a function
	ErrTransformNotFunction = errors.New("transform is not a function")
	// ErrScriptTimeout is returned when one transform call runs longer than the configured timeout
	ErrScriptTimeout = errors.New("script timed out")
)

// ScriptConfig represents the configuration for a script filter module.
// Either Script or ScriptFile must be provided (but not both).
type ScriptConfig struct {
	// Script is the inline JavaScript source code containing a transform(record) function
	Script string `json:"script,omitempty"`
	// ScriptFile is the path to a JavaScript file containing the transform(record) function
	ScriptFile string `json:"scriptFile,omitempty"`
	// Timeout bounds one transform call. Zero means no limit.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// ScriptModule runs a user-defined JavaScript transform(record) function on
// each record. Returning null or undefined drops the record; returning an
// object replaces it.
//
// Goja runtimes are not goroutine-safe. The script is compiled once and each
// Process call borrows a runtime from a pool, so a module can be shared by
// concurrent units of work.
type ScriptModule struct {
	program  *goja.Program
	timeout  time.Duration
	runtimes sync.Pool
}

// scriptVM is one pooled runtime with the transform function resolved.
type scriptVM struct {
	runtime     *goja.Runtime
	transformFn goja.Callable
}

// ScriptError carries structured context for script failures.
type ScriptError struct {
	Code       string
	Message    string
	StackTrace string
	Err        error
}

func (e *ScriptError) Error() string {
	return e.Message
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}

func newScriptError(code, message, stackTrace string, err error) *ScriptError {
	return &ScriptError{
		Code:       code,
		Message:    message,
		StackTrace: stackTrace,
		Err:        err,
	}
}

// NewScriptFromConfig creates a new script filter module from configuration.
// It validates and compiles the script and verifies the transform function exists.
//
// Security considerations:
//   - Scripts are validated for length (max 100KB)
//   - Goja provides sandboxed JavaScript execution (no file system, network access)
//   - Script is compiled once during initialization
func NewScriptFromConfig(config ScriptConfig) (*ScriptModule, error) {
	scriptSource, err := resolveScriptSource(config)
	if err != nil {
		return nil, err
	}
	if validateErr := validateScript(scriptSource); validateErr != nil {
		return nil, validateErr
	}

	program, err := goja.Compile("transform.js", scriptSource, false)
	if err != nil {
		return nil, newScriptError(ErrCodeCompilationFailed, fmt.Sprintf("script compilation failed: %v", err), "", err)
	}

	if config.Timeout < 0 {
		return nil, fmt.Errorf("script timeout must not be negative, got %s", config.Timeout)
	}
	m := &ScriptModule{program: program, timeout: config.Timeout}

	// Build the first runtime eagerly so a missing transform function is a
	// configuration error.
	first, err := m.newVM()
	if err != nil {
		return nil, err
	}
	m.runtimes.Put(first)

	logger.Debug("script module initialized",
		slog.Int("script_length", len(scriptSource)),
		slog.Bool("from_file", config.ScriptFile != ""),
		slog.Duration("timeout", config.Timeout),
	)

	return m, nil
}

// newVM creates a runtime, runs the program and resolves transform.
func (m *ScriptModule) newVM() (*scriptVM, error) {
	rt := goja.New()
	if _, err := rt.RunProgram(m.program); err != nil {
		return nil, newScriptError(ErrCodeCompilationFailed, fmt.Sprintf("script initialization failed: %v", err), "", err)
	}
	fn, err := getTransformFunction(rt)
	if err != nil {
		return nil, err
	}
	return &scriptVM{runtime: rt, transformFn: fn}, nil
}

// resolveScriptSource returns the inline script or the content of the script file.
func resolveScriptSource(config ScriptConfig) (string, error) {
	switch {
	case config.Script != "" && config.ScriptFile != "":
		return "", newScriptError(ErrCodeInvalidScriptFile, "cannot specify both 'script' and 'scriptFile' - use only one", "", nil)
	case config.Script != "":
		return config.Script, nil
	case config.ScriptFile != "":
		return readScriptFile(config.ScriptFile)
	default:
		return "", newScriptError(ErrCodeScriptEmpty, "either 'script' or 'scriptFile' must be provided", "", ErrScriptEmpty)
	}
}

// readScriptFile reads at most MaxScriptLength bytes of a validated script file.
func readScriptFile(path string) (string, error) {
	if err := validateScriptFilePath(path); err != nil {
		return "", err
	}

	file, err := os.Open(path)
	if err != nil {
		return "", newScriptError(ErrCodeScriptFileReadFailed, fmt.Sprintf("failed to open script file %q: %v", path, err), "", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			logger.Warn("failed to close script file",
				slog.String("file", path),
				slog.String("error", closeErr.Error()),
			)
		}
	}()

	// Read one byte past the limit to detect oversized files.
	content, err := io.ReadAll(io.LimitReader(file, MaxScriptLength+1))
	if err != nil {
		return "", newScriptError(ErrCodeScriptFileReadFailed, fmt.Sprintf("failed to read script file %q: %v", path, err), "", err)
	}
	if len(content) > MaxScriptLength {
		return "", newScriptError(ErrCodeScriptTooLong,
			fmt.Sprintf("script file %q exceeds maximum length of %d bytes", path, MaxScriptLength), "", ErrScriptTooLong)
	}
	return string(content), nil
}

// validateScriptFilePath rejects NUL bytes and ".." segments.
func validateScriptFilePath(filePath string) error {
	if strings.Contains(filePath, "\x00") {
		return newScriptError(ErrCodeInvalidScriptFile, "scriptFile path contains invalid characters", "", nil)
	}

	for _, segment := range strings.Split(filepath.ToSlash(filepath.Clean(filePath)), "/") {
		if segment == ".." {
			return newScriptError(ErrCodeInvalidScriptFile, fmt.Sprintf("scriptFile path contains path traversal: %q", filePath), "", nil)
		}
	}
	return nil
}

// validateScript validates the script is non-empty and within length limits.
func validateScript(script string) error {
	if strings.TrimSpace(script) == "" {
		return newScriptError(ErrCodeScriptEmpty, "script cannot be empty", "", ErrScriptEmpty)
	}
	if len(script) > MaxScriptLength {
		return newScriptError(ErrCodeScriptTooLong,
			fmt.Sprintf("script exceeds maximum length: %d bytes exceeds maximum %d bytes", len(script), MaxScriptLength), "", ErrScriptTooLong)
	}
	return nil
}

// getTransformFunction retrieves and validates the transform function from the runtime.
func getTransformFunction(vm *goja.Runtime) (goja.Callable, error) {
	transformVal := vm.Get("transform")
	if transformVal == nil || goja.IsUndefined(transformVal) {
		return nil, newScriptError(ErrCodeMissingTransform, "transform function not found in script", "", ErrMissingTransformFunc)
	}

	transformFn, ok := goja.AssertFunction(transformVal)
	if !ok {
		return nil, newScriptError(ErrCodeNotFunction, "transform is not a function", "", ErrTransformNotFunction)
	}

	return transformFn, nil
}

// ParseScriptConfig parses a script filter configuration from raw config.
// Supports both inline script and script file path.
func ParseScriptConfig(cfg map[string]interface{}) (ScriptConfig, error) {
	config := ScriptConfig{}

	script, hasScript := cfg["script"].(string)
	scriptFile, hasScriptFile := cfg["scriptFile"].(string)

	if hasScript && hasScriptFile {
		return config, fmt.Errorf("cannot specify both 'script' and 'scriptFile' - use only one")
	}

	if !hasScript && !hasScriptFile {
		if cfg["script"] != nil {
			return config, fmt.Errorf("field 'script' must be a string")
		}
		if cfg["scriptFile"] != nil {
			return config, fmt.Errorf("field 'scriptFile' must be a string")
		}
		return config, fmt.Errorf("either 'script' or 'scriptFile' is required in script config")
	}

	config.Script = script
	config.ScriptFile = scriptFile

	if raw, ok := cfg["timeout"]; ok {
		text, isString := raw.(string)
		if !isString {
			return config, fmt.Errorf("field 'timeout' must be a duration string such as \"500ms\"")
		}
		timeout, err := time.ParseDuration(text)
		if err != nil || timeout <= 0 {
			return config, fmt.Errorf("invalid 'timeout' %q: must be a positive duration", text)
		}
		config.Timeout = timeout
	}
	return config, nil
}

// Process calls transform(record). A null or undefined result drops the
// record. Script failures are transform errors.
//
// A goroutine interrupts the JavaScript execution when ctx is canceled or the
// configured timeout elapses.
func (m *ScriptModule) Process(ctx context.Context, record map[string]interface{}) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	callCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	svm, err := m.acquire()
	if err != nil {
		return nil, errhandling.NewTransformError("script filter", err)
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-callCtx.Done():
			svm.runtime.Interrupt(callCtx.Err().Error())
		case <-done:
		}
	}()

	result, callErr := svm.transformFn(goja.Undefined(), svm.runtime.ToValue(record))
	close(done)
	<-stopped
	svm.runtime.ClearInterrupt()

	if callErr != nil {
		m.runtimes.Put(svm)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if callCtx.Err() != nil {
			return nil, errhandling.NewTransformError("script filter",
				newScriptError(ErrCodeScriptTimeout, fmt.Sprintf("script exceeded timeout of %s", m.timeout), "", ErrScriptTimeout))
		}
		return nil, errhandling.NewTransformError("script filter", handleJSError(callErr))
	}

	out, err := exportRecord(svm.runtime, result)
	m.runtimes.Put(svm)
	if err != nil {
		return nil, errhandling.NewTransformError("script filter", err)
	}
	return out, nil
}

// acquire takes a runtime from the pool or builds a new one.
func (m *ScriptModule) acquire() (*scriptVM, error) {
	if svm, ok := m.runtimes.Get().(*scriptVM); ok {
		return svm, nil
	}
	return m.newVM()
}

// handleJSError converts a JavaScript error to a ScriptError.
func handleJSError(err error) error {
	var jsErr *goja.Exception
	if errors.As(err, &jsErr) {
		stackTrace := ""
		if obj, ok := jsErr.Value().(*goja.Object); ok {
			if stack := obj.Get("stack"); stack != nil && !goja.IsUndefined(stack) {
				stackTrace = stack.String()
			}
		}
		return newScriptError(ErrCodeExecutionFailed, fmt.Sprintf("script execution failed: %v", jsErr.Value()), stackTrace, err)
	}

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return newScriptError(ErrCodeExecutionFailed, "script execution interrupted", "", err)
	}
	return newScriptError(ErrCodeExecutionFailed, fmt.Sprintf("script execution failed: %v", err), "", err)
}

// exportRecord converts the transform result back to a record.
// null and undefined drop the record; anything but an object is an error.
func exportRecord(rt *goja.Runtime, value goja.Value) (map[string]interface{}, error) {
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}

	obj, ok := value.(*goja.Object)
	if !ok {
		return nil, newScriptError(ErrCodeExecutionFailed,
			fmt.Sprintf("transform returned %s - transform function must return an object or null", value.ExportType()), "", nil)
	}
	if obj.ClassName() == "Array" {
		return nil, newScriptError(ErrCodeExecutionFailed,
			"transform returned an array - transform function must return an object, not an array", "", nil)
	}

	if result, ok := obj.Export().(map[string]interface{}); ok {
		return result, nil
	}
	var result map[string]interface{}
	if err := rt.ExportTo(value, &result); err != nil {
		return nil, newScriptError(ErrCodeExecutionFailed, fmt.Sprintf("failed to convert script result: %v", err), "", err)
	}
	return result, nil
}

var _ Module = (*ScriptModule)(nil)
