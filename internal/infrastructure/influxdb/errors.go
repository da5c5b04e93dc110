package influxdb

import "errors"

// Sentinel errors; match with errors.Is. Write failures are delivered
// asynchronously through the SetOnError callback instead.
var (
	ErrNotConnected     = errors.New("influxdb: not connected")
	ErrConnectionFailed = errors.New("influxdb: connection failed")
	ErrDisabled         = errors.New("influxdb: disabled in configuration")
)
