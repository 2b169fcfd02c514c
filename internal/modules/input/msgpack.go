package input

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/canectors/keyhash/internal/errhandling"
	"github.com/canectors/keyhash/pkg/connector"
)

// MsgpackInput reads a stream of MessagePack values. Each value is a map
// (one record) or an array of maps.
type MsgpackInput struct{}

// NewMsgpackInputFromConfig creates a MessagePack reader module.
func NewMsgpackInputFromConfig(cfg *connector.ModuleConfig) (*MsgpackInput, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	return &MsgpackInput{}, nil
}

// Open starts decoding src value by value.
func (m *MsgpackInput) Open(_ context.Context, src Source) (Reader, error) {
	dec := msgpack.NewDecoder(src.Content)
	dec.UseLooseInterfaceDecoding(true)
	return &msgpackReader{decoder: dec}, nil
}

// Close is a no-op.
func (m *MsgpackInput) Close() error {
	return nil
}

type msgpackReader struct {
	decoder *msgpack.Decoder
	pending []map[string]interface{}
	value   int
	schema  connector.Schema
}

func (r *msgpackReader) Schema() connector.Schema {
	return r.schema
}

func (r *msgpackReader) Next(ctx context.Context) (map[string]interface{}, error) {
	for len(r.pending) == 0 {
		if err := checkContext(ctx); err != nil {
			return nil, err
		}
		v, err := r.decoder.DecodeInterface()
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		r.value++
		if err != nil {
			return nil, errhandling.NewMalformedInputError(fmt.Sprintf("msgpack value %d", r.value), err)
		}

		if items, ok := v.([]interface{}); ok {
			for i, item := range items {
				record, recErr := asRecord(item, fmt.Sprintf("msgpack value %d item %d", r.value, i+1))
				if recErr != nil {
					return nil, recErr
				}
				r.pending = append(r.pending, record)
			}
			continue
		}

		record, err := asRecord(v, fmt.Sprintf("msgpack value %d", r.value))
		if err != nil {
			return nil, err
		}
		r.pending = append(r.pending, record)
	}

	record := r.pending[0]
	r.pending = r.pending[1:]
	if r.schema.Fields == nil {
		r.schema = inferSchema(record)
	}
	return record, nil
}

func (r *msgpackReader) Close() error {
	r.pending = nil
	return nil
}

var _ Module = (*MsgpackInput)(nil)
