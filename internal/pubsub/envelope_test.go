package pubsub

import (
	"bytes"
	"errors"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/nerrad567/grayrelay/internal/broker"
)

func TestEnvelope_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
	}{
		{"full", Envelope{Version: EnvelopeVersion, NodeID: "node-a", Sender: "alice", Payload: []byte(`{"msg":"hi"}`)}},
		{"anonymous", Envelope{Version: EnvelopeVersion, NodeID: "node-b", Payload: []byte{0, 1, 2, 255}}},
		{"unicode sender", Envelope{Version: EnvelopeVersion, NodeID: "n", Sender: "ü-42", Payload: []byte("x")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.env.Marshal()
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			got, err := DecodeEnvelope(data)
			if err != nil {
				t.Fatalf("DecodeEnvelope() error = %v", err)
			}
			if got.Version != tt.env.Version || got.NodeID != tt.env.NodeID || got.Sender != tt.env.Sender {
				t.Errorf("decoded %+v, want %+v", got, tt.env)
			}
			if !bytes.Equal(got.Payload, tt.env.Payload) {
				t.Errorf("payload = %v, want %v", got.Payload, tt.env.Payload)
			}
		})
	}
}

func TestDecodeEnvelope_Errors(t *testing.T) {
	future, _ := msgpack.Marshal(&Envelope{Version: 2, NodeID: "n"})

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"garbage", []byte{0xc1}, ErrMalformedEnvelope},
		{"wrong type", []byte("plain text"), ErrMalformedEnvelope},
		{"future version", future, ErrUnsupportedVersion},
		{"missing version", mustMarshal(t, map[string]string{"n": "x"}), ErrUnsupportedVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeEnvelope(tt.data); !errors.Is(err, tt.want) {
				t.Errorf("DecodeEnvelope() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTopicChannelSymmetry(t *testing.T) {
	topics := []string{"lobby", "room:1", "a:b:c", "üñí"}
	schemes := []broker.Scheme{broker.RedisScheme, broker.MQTTScheme}

	for _, scheme := range schemes {
		for _, topic := range topics {
			channel := scheme.Channel(DefaultNamespace, topic)
			got, ok := scheme.Topic(DefaultNamespace, channel)
			if !ok || got != topic {
				t.Errorf("Topic(Channel(%q)) = %q, %v", topic, got, ok)
			}
			if !scheme.Match(scheme.Pattern(DefaultNamespace), channel) {
				t.Errorf("pattern does not match channel %q", channel)
			}
		}
	}
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := msgpack.Marshal(v)
	if err != nil {
		t.Fatalf("msgpack.Marshal() error = %v", err)
	}
	return data
}
