package pubsub

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// EnvelopeVersion is the only envelope version this node reads and writes.
const EnvelopeVersion = 1

// Envelope is the wire form of a broadcast.
type Envelope struct {
	Version int    `msgpack:"v"`
	NodeID  string `msgpack:"n"`
	Sender  string `msgpack:"s"`
	Payload []byte `msgpack:"p"`
}

// Marshal encodes the envelope with msgpack.
func (e Envelope) Marshal() ([]byte, error) {
	data, err := msgpack.Marshal(&e)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope decodes and version-checks an envelope.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if e.Version != EnvelopeVersion {
		return Envelope{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, e.Version)
	}
	return e, nil
}
