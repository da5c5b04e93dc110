//go:build integration

package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/zkgate/zkgate-core/internal/infrastructure/config"
)

// These tests need a broker listening on 127.0.0.1:1883:
//
//	go test -tags=integration -count=1 ./internal/infrastructure/mqtt/...

func brokerConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func connectOrSkip(t *testing.T, clientID string) *Client {
	t.Helper()

	client, err := Connect(brokerConfig(clientID))
	if err != nil {
		t.Skipf("no local broker: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// A punch published on a terminal's event topic must arrive intact at a
// subscriber using the wildcard pattern.
func TestIntegration_PunchEventMirror(t *testing.T) {
	pub := connectOrSkip(t, "zkgate-int-pub")
	sub := connectOrSkip(t, "zkgate-int-sub")

	punch := map[string]string{
		"device":        "10.0.0.5:4370",
		"enroll_number": "1042",
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(punch)
	if err != nil {
		t.Fatalf("marshal punch: %v", err)
	}

	received := make(chan []byte, 1)
	var once sync.Once
	err = sub.Subscribe(Topics{}.AllTerminalEvents(), 1, func(_ string, p []byte) error {
		once.Do(func() { received <- p })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	// Let the broker register the subscription before publishing.
	time.Sleep(100 * time.Millisecond)

	topic := Topics{}.TerminalEvent("10.0.0.5:4370")
	if err := pub.Publish(topic, payload, 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		var decoded map[string]string
		if err := json.Unmarshal(got, &decoded); err != nil {
			t.Fatalf("unmarshal received payload: %v", err)
		}
		if decoded["enroll_number"] != "1042" {
			t.Errorf("enroll_number = %q, want 1042", decoded["enroll_number"])
		}
	case <-time.After(5 * time.Second):
		t.Fatal("punch never arrived at subscriber")
	}
}

// Retained status snapshots must reach a subscriber that connects after
// the publish.
func TestIntegration_RetainedStatusForLateSubscriber(t *testing.T) {
	pub := connectOrSkip(t, "zkgate-int-retain-pub")

	topic := Topics{}.TerminalStatus("10.0.0.9:4370")
	if err := pub.PublishRetained(topic, []byte(`{"user_count":12}`)); err != nil {
		t.Fatalf("PublishRetained() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	late := connectOrSkip(t, "zkgate-int-retain-sub")
	received := make(chan []byte, 1)
	var once sync.Once
	err := late.Subscribe(topic, 1, func(_ string, p []byte) error {
		once.Do(func() { received <- p })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case got := <-received:
		if string(got) != `{"user_count":12}` {
			t.Errorf("retained payload = %s", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("retained status never delivered")
	}
}

// Subscriptions are tracked so a reconnect can replay them.
func TestIntegration_SubscriptionTracking(t *testing.T) {
	client := connectOrSkip(t, "zkgate-int-track")

	handler := func(string, []byte) error { return nil }
	topics := make([]string, 3)
	for i := range topics {
		topics[i] = fmt.Sprintf("zkgate/int/track/%d", i)
		if err := client.Subscribe(topics[i], 1, handler); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topics[i], err)
		}
	}

	if n := client.SubscriptionCount(); n != len(topics) {
		t.Errorf("SubscriptionCount() = %d, want %d", n, len(topics))
	}
	for _, topic := range topics {
		if !client.HasSubscription(topic) {
			t.Errorf("HasSubscription(%s) = false", topic)
		}
	}

	if err := client.Unsubscribe(topics[0]); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if client.HasSubscription(topics[0]) {
		t.Errorf("HasSubscription(%s) = true after unsubscribe", topics[0])
	}
	if n := client.SubscriptionCount(); n != len(topics)-1 {
		t.Errorf("SubscriptionCount() after unsubscribe = %d, want %d", n, len(topics)-1)
	}
}

// Close must announce a graceful shutdown on the system status topic,
// distinguishable from the crash will message.
func TestIntegration_GracefulShutdownStatus(t *testing.T) {
	watcher := connectOrSkip(t, "zkgate-int-watcher")

	statuses := make(chan gatewayStatus, 4)
	err := watcher.Subscribe(Topics{}.SystemStatus(), 1, func(_ string, p []byte) error {
		var s gatewayStatus
		if err := json.Unmarshal(p, &s); err == nil {
			statuses <- s
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	gw, err := Connect(brokerConfig("zkgate-int-lifecycle"))
	if err != nil {
		t.Skipf("no local broker: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-statuses:
			if s.ClientID != "zkgate-int-lifecycle" || s.Status != "offline" {
				continue
			}
			if s.Reason != "graceful_shutdown" {
				t.Errorf("offline reason = %q, want graceful_shutdown", s.Reason)
			}
			return
		case <-deadline:
			t.Fatal("never saw graceful offline status")
		}
	}
}
