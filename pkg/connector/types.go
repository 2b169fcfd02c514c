// Package connector provides public types and interfaces for keyhash pipelines.
// This package is intended to be importable by external projects that need
// to configure or drive the keyhash runtime.
package connector

import "time"

// Relationship names for unit-of-work outcomes.
const (
	RelationshipSuccess = "success"
	RelationshipFailure = "failure"
)

// Well-known FlowFile attribute names.
const (
	AttrFilename    = "filename"
	AttrMimeType    = "mime.type"
	AttrRecordCount = "record.count"
	AttrUUID        = "uuid"
)

// Pipeline represents a complete keyhash pipeline configuration.
// It contains the reader (Input), optional pre-transform filters, the key-hash
// transform settings, the writer (Output) and outcome routing.
type Pipeline struct {
	// ID is the unique identifier for this pipeline
	ID string `json:"id"`

	// Name is the human-readable name of the pipeline
	Name string `json:"name"`

	// Description provides additional context about the pipeline
	Description string `json:"description,omitempty"`

	// Version is the pipeline configuration version
	Version string `json:"version"`

	// Input defines the record reader module
	Input *ModuleConfig `json:"input"`

	// Filters is an ordered list of per-record stages applied before hashing
	Filters []ModuleConfig `json:"filters,omitempty"`

	// KeyHash configures the extraction and derivation step
	KeyHash *KeyHashConfig `json:"keyHash"`

	// Output defines the record writer module
	Output *ModuleConfig `json:"output"`

	// Routing defines where success and failure outcomes are transferred
	Routing *RoutingConfig `json:"routing,omitempty"`

	// Workers bounds how many units of work are processed concurrently
	Workers int `json:"workers,omitempty"`

	// CreatedAt is when the pipeline was loaded
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// ModuleConfig represents the configuration for a reader, filter or writer module.
type ModuleConfig struct {
	// Type identifies the module type (e.g., "json", "csv", "condition", "database")
	Type string `json:"type"`

	// Config contains the module-specific configuration
	Config map[string]interface{} `json:"config"`
}

// KeyHashConfig holds the settings of the key-hash transform.
type KeyHashConfig struct {
	// HashKey is the secret key. Never logged.
	HashKey string `json:"-"`

	// HashKeyRef names an environment variable holding the key
	HashKeyRef string `json:"hashKeyRef,omitempty"`

	// HashName is the output field that receives the hash (default "hash")
	HashName string `json:"hashName"`

	// PlaintextName is the output field that receives the plaintext (default "plaintext")
	PlaintextName string `json:"plaintextName"`

	// HashAlgorithm identifies the keyed hash algorithm (default "SHA-256")
	HashAlgorithm string `json:"hashAlgorithm"`

	// Normalization optionally applies a Unicode normal form (NFC, NFD, NFKC, NFKD)
	Normalization string `json:"normalization,omitempty"`

	// Properties is the ordered selection configuration
	Properties []PropertyConfig `json:"properties"`
}

// Property value kinds.
const (
	ValueTypePath    = "path"
	ValueTypeLiteral = "literal"
)

// PropertyConfig is one user-defined selection entry.
type PropertyConfig struct {
	// Name labels the entry
	Name string `json:"name"`

	// Value is a path expression or a literal, optionally containing {{attribute}} placeholders
	Value string `json:"value"`

	// ValueType is "path" (default) or "literal"
	ValueType string `json:"valueType,omitempty"`
}

// RoutingConfig configures the success and failure destinations.
type RoutingConfig struct {
	// Success is the directory receiving successful outputs
	Success string `json:"success"`

	// Failure is the directory receiving original inputs of failed units
	Failure string `json:"failure"`
}

// FieldType is the data type of a schema field.
type FieldType string

// Field types.
const (
	FieldTypeString  FieldType = "string"
	FieldTypeNumber  FieldType = "number"
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeRecord  FieldType = "record"
	FieldTypeArray   FieldType = "array"
	FieldTypeAny     FieldType = "any"
)

// SchemaField describes one named field of a record schema.
type SchemaField struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`
}

// Schema is the ordered field list of a record stream.
// An empty schema means the reader could not infer one.
type Schema struct {
	Fields []SchemaField `json:"fields"`
}

// FieldNames returns the names of the schema fields in order.
func (s Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// FlowFile is one unit of work: content plus string attributes.
type FlowFile struct {
	// ID is the unit identifier (UUIDv7)
	ID string `json:"id"`

	// Attributes carries metadata such as filename and mime.type
	Attributes map[string]string `json:"attributes"`

	// Content is the raw record data
	Content []byte `json:"-"`
}

// Filename returns the filename attribute, or the ID when unset.
func (f *FlowFile) Filename() string {
	if name := f.Attributes[AttrFilename]; name != "" {
		return name
	}
	return f.ID
}

// Clone returns a copy with independent attributes. Content is shared.
func (f *FlowFile) Clone() *FlowFile {
	attrs := make(map[string]string, len(f.Attributes))
	for k, v := range f.Attributes {
		attrs[k] = v
	}
	return &FlowFile{ID: f.ID, Attributes: attrs, Content: f.Content}
}

// Outcome is the single result of processing one unit of work.
type Outcome struct {
	// Relationship is RelationshipSuccess or RelationshipFailure
	Relationship string `json:"relationship"`

	// FlowFile is the rebuilt output on success or the original input on failure
	FlowFile *FlowFile `json:"flowFile"`

	// Result holds execution details
	Result *ExecutionResult `json:"result"`

	// Err is the failure cause (nil on success)
	Err error `json:"-"`
}

// ExecutionResult represents the result of processing one unit of work.
type ExecutionResult struct {
	// PipelineID is the ID of the executed pipeline
	PipelineID string `json:"pipelineId"`

	// UnitID is the ID of the processed FlowFile
	UnitID string `json:"unitId"`

	// Status is the execution status ("success", "error")
	Status string `json:"status"`

	// StartedAt is when execution started
	StartedAt time.Time `json:"startedAt"`

	// CompletedAt is when execution completed
	CompletedAt time.Time `json:"completedAt"`

	// RecordsRead is the number of input records read
	RecordsRead int `json:"recordsRead"`

	// RecordsProcessed is the number of derived records written
	RecordsProcessed int `json:"recordsProcessed"`

	// Attributes holds the result attributes (record.count, mime.type, writer attributes)
	Attributes map[string]string `json:"attributes,omitempty"`

	// Error contains error details if execution failed
	Error *ExecutionError `json:"error,omitempty"`
}

// ExecutionError contains details about an execution failure.
type ExecutionError struct {
	// Code is the error code
	Code string `json:"code"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// Module is the module where the error occurred
	Module string `json:"module,omitempty"`

	// ErrorCategory is the classified category (path_syntax, write, ...)
	ErrorCategory string `json:"errorCategory,omitempty"`

	// Details contains additional error context
	Details map[string]interface{} `json:"details,omitempty"`
}
