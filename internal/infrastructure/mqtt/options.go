package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/zkgate/zkgate-core/internal/infrastructure/config"
)

const (
	// connectTimeout bounds the initial broker dial.
	connectTimeout = 10 * time.Second

	// opTimeout bounds publish, subscribe, and unsubscribe acks.
	opTimeout = 5 * time.Second

	// disconnectQuiesceMs gives in-flight publishes a chance to drain
	// before Close tears the connection down.
	disconnectQuiesceMs = 1000

	// keepAliveInterval drives broker-side dead-link detection.
	keepAliveInterval = 60 * time.Second

	// maxQoS is the highest MQTT QoS level.
	maxQoS = 2
)

// newClientOptions translates the gateway config into paho options.
// Reconnection is delegated to paho with the configured backoff window.
func newClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAliveInterval)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}

// gatewayStatus is the lifecycle announcement on zkgate/system/status.
// Reason is set only for offline transitions so consumers can tell a
// crash (the broker's will) from a graceful shutdown.
type gatewayStatus struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func gatewayStatusJSON(clientID, status, reason string) []byte {
	payload, _ := json.Marshal(gatewayStatus{ //nolint:errcheck // Fixed shape
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return payload
}
