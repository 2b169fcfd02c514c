package keyhash

import (
	"fmt"
	"strings"
	"sync/atomic"

	"golang.org/x/text/unicode/norm"

	"github.com/canectors/keyhash/internal/errhandling"
	"github.com/canectors/keyhash/internal/hashing"
	"github.com/canectors/keyhash/internal/recordpath"
	"github.com/canectors/keyhash/pkg/connector"
)

// Default output field names.
const (
	DefaultHashName      = "hash"
	DefaultPlaintextName = "plaintext"
)

var normalForms = map[string]norm.Form{
	"NFC":  norm.NFC,
	"NFD":  norm.NFD,
	"NFKC": norm.NFKC,
	"NFKD": norm.NFKD,
}

// Config holds the transformer settings. Key is a secret.
type Config struct {
	Key           string
	Algorithm     string
	HashName      string
	PlaintextName string
	Normalization string
}

// ConfigFrom maps a connector key-hash configuration to a Config.
// The key must already be resolved (hashKeyRef expanded).
func ConfigFrom(kh *connector.KeyHashConfig) Config {
	return Config{
		Key:           kh.HashKey,
		Algorithm:     kh.HashAlgorithm,
		HashName:      kh.HashName,
		PlaintextName: kh.PlaintextName,
		Normalization: kh.Normalization,
	}
}

// Stats are cumulative transformer counters.
type Stats struct {
	// Matched counts values returned by selectors and literals
	Matched int64
	// Emitted counts derived records produced
	Emitted int64
	// Skipped counts matches dropped because their string form was empty or absent
	Skipped int64
}

// Transformer derives hash/plaintext records from input records.
// It is safe for concurrent use; the selector cache is its only shared state.
type Transformer struct {
	deriver       *hashing.Deriver
	cache         *recordpath.Cache
	hashName      string
	plaintextName string
	form          *norm.Form

	matched atomic.Int64
	emitted atomic.Int64
	skipped atomic.Int64
}

// NewTransformer validates cfg and builds a Transformer. The algorithm is
// resolved here, so an unsupported algorithm fails before any record is read.
// A nil cache gets a private one.
func NewTransformer(cfg Config, cache *recordpath.Cache) (*Transformer, error) {
	if cfg.Key == "" {
		return nil, errhandling.NewConfigurationError("hash key is required", nil)
	}

	deriver, err := hashing.NewDeriver(cfg.Algorithm, cfg.Key)
	if err != nil {
		return nil, err
	}

	t := &Transformer{
		deriver:       deriver,
		cache:         cache,
		hashName:      strings.TrimSpace(cfg.HashName),
		plaintextName: strings.TrimSpace(cfg.PlaintextName),
	}
	if t.cache == nil {
		t.cache = recordpath.NewCache()
	}
	if t.hashName == "" {
		t.hashName = DefaultHashName
	}
	if t.plaintextName == "" {
		t.plaintextName = DefaultPlaintextName
	}
	if t.hashName == t.plaintextName {
		return nil, errhandling.NewConfigurationError(
			fmt.Sprintf("hash and plaintext field names must differ (both %q)", t.hashName), nil)
	}

	if name := strings.ToUpper(strings.TrimSpace(cfg.Normalization)); name != "" {
		form, ok := normalForms[name]
		if !ok {
			return nil, errhandling.NewConfigurationError(
				fmt.Sprintf("unknown normalization %q (expected NFC, NFD, NFKC or NFKD)", cfg.Normalization), nil)
		}
		t.form = &form
	}

	return t, nil
}

// Precompile compiles every static path selection through the cache, so path
// syntax errors surface at configuration time.
func (t *Transformer) Precompile(selections []Selection) error {
	for _, s := range selections {
		if s.Value.Kind != KindPath || !s.Value.IsStatic() {
			continue
		}
		if _, err := t.cache.Compile(s.Value.Text); err != nil {
			return err
		}
	}
	return nil
}

// Algorithm returns the canonical name of the resolved hash algorithm.
func (t *Transformer) Algorithm() string {
	return t.deriver.Algorithm()
}

// OutputSchema describes the derived records.
func (t *Transformer) OutputSchema() connector.Schema {
	return connector.Schema{Fields: []connector.SchemaField{
		{Name: t.hashName, Type: connector.FieldTypeString},
		{Name: t.plaintextName, Type: connector.FieldTypeString},
	}}
}

// Stats returns a snapshot of the cumulative counters.
func (t *Transformer) Stats() Stats {
	return Stats{
		Matched: t.matched.Load(),
		Emitted: t.emitted.Load(),
		Skipped: t.skipped.Load(),
	}
}

// Transform derives output records from one input record.
//
// Output follows configuration order, then match order within each selection.
// Matches whose string form is empty or absent are skipped. Any failure returns
// a transform error and no records for the input record.
func (t *Transformer) Transform(record map[string]interface{}, selections []ResolvedSelection) ([]map[string]interface{}, error) {
	if record == nil {
		return nil, errhandling.NewTransformError("input record",
			errhandling.NewSelectionError("nil record", nil))
	}

	var out []map[string]interface{}
	var matched, skipped int64

	for _, s := range selections {
		values, err := t.values(s, record)
		if err != nil {
			return nil, errhandling.NewTransformError(fmt.Sprintf("selection %q", s.Name), err)
		}

		for _, v := range values {
			matched++
			plaintext, present, err := recordpath.StringValue(v)
			if err != nil {
				return nil, errhandling.NewTransformError(fmt.Sprintf("selection %q", s.Name), err)
			}
			if t.form != nil {
				plaintext = t.form.String(plaintext)
			}
			if !present || plaintext == "" {
				skipped++
				continue
			}

			hash, err := t.deriver.Hash(plaintext)
			if err != nil {
				return nil, errhandling.NewTransformError(fmt.Sprintf("selection %q", s.Name), err)
			}
			out = append(out, map[string]interface{}{
				t.hashName:      hash,
				t.plaintextName: plaintext,
			})
		}
	}

	t.matched.Add(matched)
	t.skipped.Add(skipped)
	t.emitted.Add(int64(len(out)))
	return out, nil
}

// values returns the matched values of one selection in order.
func (t *Transformer) values(s ResolvedSelection, record map[string]interface{}) ([]interface{}, error) {
	if s.Kind == KindLiteral {
		return []interface{}{s.Text}, nil
	}

	sel, err := t.cache.Compile(s.Text)
	if err != nil {
		return nil, err
	}
	matches, err := recordpath.Select(sel, record)
	if err != nil {
		return nil, err
	}

	values := make([]interface{}, len(matches))
	for i, m := range matches {
		values[i] = m.Value
	}
	return values, nil
}
