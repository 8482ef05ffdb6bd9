//go:build integration

package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/grayrelay/internal/broker"
	"github.com/nerrad567/grayrelay/internal/infrastructure/config"
)

// These tests need a broker on localhost:1883:
//
//	docker run --rm -p 1883:1883 eclipse-mosquitto:2 mosquitto -c /mosquitto-no-auth.conf
//	go test -tags integration ./internal/infrastructure/mqtt/...

func integrationConfig() config.BrokerConfig {
	return config.BrokerConfig{
		Kind:      config.BrokerMQTT,
		Host:      "localhost",
		Port:      1883,
		Namespace: "grayrelay-it",
	}
}

func TestIntegration_PublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := New(integrationConfig(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ev := newEvents()
	conn, err := client.Dial(ctx, ev)
	if err != nil {
		t.Skipf("broker unavailable: %v", err)
	}
	defer conn.Close()

	pattern := client.Scheme().Pattern("grayrelay-it")
	if err := conn.PSubscribe(ctx, pattern); err != nil {
		t.Fatalf("PSubscribe() error = %v", err)
	}
	if d := ev.next(t).(*broker.Delivery); d.Kind != broker.KindSubscription {
		t.Fatalf("first delivery kind = %v, want subscription", d.Kind)
	} else {
		d.Ack()
	}

	channel := client.Scheme().Channel("grayrelay-it", "lobby")
	if err := client.Publish(ctx, channel, []byte("hello")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	d := ev.next(t).(*broker.Delivery)
	if d.Channel != channel || string(d.Payload) != "hello" {
		t.Errorf("delivery = %s %q, want %s hello", d.Channel, d.Payload, channel)
	}
	d.Ack()

	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestIntegration_DialRefused(t *testing.T) {
	cfg := integrationConfig()
	cfg.Port = 1
	cfg.Options = map[string]string{"connect_timeout": "1s"}

	client, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := client.Dial(context.Background(), newEvents()); err == nil {
		t.Fatal("Dial() to a closed port should fail")
	}
}
