// Package mqtt mirrors terminal activity onto an MQTT broker.
//
// Punch events, per-terminal status snapshots, and gateway lifecycle
// announcements each get their own topic under the zkgate/ prefix (see
// Topics). Retained messages carry state topics so a consumer joining
// late still sees the current picture; events are never retained.
//
// The mirror is one-directional and optional. The client reconnects on
// its own with exponential backoff, replays subscriptions, and leaves a
// will message so consumers can tell a crash from a graceful shutdown.
// A broker outage is reported through HealthCheck but never interferes
// with terminal sessions.
package mqtt
