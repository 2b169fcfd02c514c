package output

import (
	"bufio"
	"context"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/canectors/keyhash/internal/errhandling"
	"github.com/canectors/keyhash/pkg/connector"
)

// MsgpackOutput writes records as a stream of MessagePack maps.
// Keys follow the schema order.
type MsgpackOutput struct{}

// NewMsgpackOutputFromConfig creates a MessagePack writer module.
func NewMsgpackOutputFromConfig(cfg *connector.ModuleConfig) (*MsgpackOutput, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	return &MsgpackOutput{}, nil
}

// Open creates a writer over dst.
func (m *MsgpackOutput) Open(_ context.Context, dst Destination) (Writer, error) {
	bw := bufio.NewWriter(dst.Content)
	return &msgpackWriter{buf: bw, enc: msgpack.NewEncoder(bw)}, nil
}

// Close is a no-op.
func (m *MsgpackOutput) Close() error {
	return nil
}

type msgpackWriter struct {
	writerState
	buf *bufio.Writer
	enc *msgpack.Encoder
}

func (p *msgpackWriter) MimeType() string {
	return MimeTypeMsgpack
}

func (p *msgpackWriter) Begin(schema connector.Schema) error {
	if err := p.begin(schema); err != nil {
		return errhandling.NewWriteError("begin", err)
	}
	return nil
}

func (p *msgpackWriter) Write(record map[string]interface{}) error {
	if err := p.check(); err != nil {
		return errhandling.NewWriteError("write", err)
	}

	keys := orderedKeys(p.fields, record)
	if err := p.enc.EncodeMapLen(len(keys)); err != nil {
		return errhandling.NewWriteError("write", err)
	}
	for _, key := range keys {
		if err := p.enc.EncodeString(key); err != nil {
			return errhandling.NewWriteError("write", err)
		}
		if err := p.enc.Encode(record[key]); err != nil {
			return errhandling.NewWriteError("encoding field "+key, err)
		}
	}
	p.count++
	return nil
}

func (p *msgpackWriter) Finish() (WriteResult, error) {
	if err := p.finish(); err != nil {
		return WriteResult{}, errhandling.NewWriteError("finish", err)
	}
	if err := p.buf.Flush(); err != nil {
		return WriteResult{}, errhandling.NewWriteError("flush", err)
	}
	return WriteResult{RecordCount: p.count}, nil
}

func (p *msgpackWriter) Abort() error {
	p.closed = true
	p.buf.Reset(nil)
	return nil
}
