// internal/protocol/connection.go
package protocol

import (
	"time"

	"node-service/internal/model"
)

// SerialConfig represents serial connection configuration
type SerialConfig struct {
	Port        string        `json:"port"`
	BaudRate    int           `json:"baud_rate"`
	DataBits    int           `json:"data_bits"`
	StopBits    int           `json:"stop_bits"`
	Parity      string        `json:"parity"`
	ReadTimeout time.Duration `json:"read_timeout"`
}

// TCPConfig represents a serial-over-TCP bridge (ser2net, esp-link)
type TCPConfig struct {
	Address        string        `json:"address"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
	KeepAlive      bool          `json:"keep_alive"`
}

// Defaults applied when an endpoint leaves serial settings unset
var DefaultSettings = model.SerialSettings{
	DataBits: 8,
	StopBits: 1,
	Parity:   "none",
}

// serialConfigFor merges endpoint settings over the given defaults
func serialConfigFor(endpoint Endpoint, defaults model.SerialSettings, readTimeout time.Duration) *SerialConfig {
	cfg := &SerialConfig{
		Port:        endpoint.Name,
		BaudRate:    endpoint.BaudRate,
		DataBits:    defaults.DataBits,
		StopBits:    defaults.StopBits,
		Parity:      defaults.Parity,
		ReadTimeout: readTimeout,
	}
	if endpoint.Settings.DataBits != 0 {
		cfg.DataBits = endpoint.Settings.DataBits
	}
	if endpoint.Settings.StopBits != 0 {
		cfg.StopBits = endpoint.Settings.StopBits
	}
	if endpoint.Settings.Parity != "" {
		cfg.Parity = endpoint.Settings.Parity
	}
	return cfg
}
