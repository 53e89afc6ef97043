// internal/model/device.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// ProbeStatus represents the terminal outcome of one identification probe
type ProbeStatus string

const (
	ProbeStatusIdentified     ProbeStatus = "IDENTIFIED"
	ProbeStatusTimedOut       ProbeStatus = "TIMED_OUT"
	ProbeStatusTransportError ProbeStatus = "TRANSPORT_ERROR"
)

// Port describes a candidate serial endpoint
type Port struct {
	Name         string `json:"port"`
	Description  string `json:"description,omitempty"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
}

// SerialSettings carries line settings forwarded unchanged to the transport
type SerialSettings struct {
	DataBits int    `json:"data_bits,omitempty"`
	StopBits int    `json:"stop_bits,omitempty"`
	Parity   string `json:"parity,omitempty"`
}

// ProbeRequest is one identification attempt against one port.
// It is passed by value and never modified once issued.
type ProbeRequest struct {
	Port     Port           `json:"port"`
	BaudRate int            `json:"baud_rate"`
	Timeout  time.Duration  `json:"timeout"`
	Settings SerialSettings `json:"settings"`
}

// Identity is the self-reported identity of a node
type Identity struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Outcome is the tagged result of a probe. Exactly one of the statuses
// applies; Identity is set only for ProbeStatusIdentified and Err only for
// the failure statuses.
type Outcome struct {
	Status   ProbeStatus   `json:"status"`
	Identity *Identity     `json:"identity,omitempty"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// Identified builds a successful outcome
func Identified(identity Identity) Outcome {
	return Outcome{Status: ProbeStatusIdentified, Identity: &identity}
}

// TimedOut builds a timeout outcome
func TimedOut(err error) Outcome {
	return Outcome{Status: ProbeStatusTimedOut, Err: err}
}

// TransportFailure builds a transport error outcome
func TransportFailure(err error) Outcome {
	return Outcome{Status: ProbeStatusTransportError, Err: err}
}

// Reason returns the failure detail, empty for identified outcomes
func (o Outcome) Reason() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// DeviceRow is one row of the discovery table: the probed port enriched with
// the baud rate used and whatever identity the node reported.
type DeviceRow struct {
	Port
	BaudRate      int           `json:"baudrate"`
	DeviceName    string        `json:"device_name"`
	DeviceVersion string        `json:"device_version"`
	Status        ProbeStatus   `json:"status"`
	Error         string        `json:"error,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// NewDeviceRow merges a request and its outcome into a table row
func NewDeviceRow(req ProbeRequest, outcome Outcome) DeviceRow {
	row := DeviceRow{
		Port:     req.Port,
		BaudRate: req.BaudRate,
		Status:   outcome.Status,
		Error:    outcome.Reason(),
		Duration: outcome.Duration,
	}
	if outcome.Status == ProbeStatusIdentified && outcome.Identity != nil {
		row.DeviceName = outcome.Identity.Name
		row.DeviceVersion = outcome.Identity.Version
	}
	return row
}

// Responded reports whether the node answered the identification request
func (r DeviceRow) Responded() bool {
	return r.Status == ProbeStatusIdentified
}

// DeviceTable is the ordered discovery result, one row per requested port
type DeviceTable []DeviceRow

// Identified returns only the rows whose node answered
func (t DeviceTable) Identified() DeviceTable {
	var rows DeviceTable
	for _, row := range t {
		if row.Responded() {
			rows = append(rows, row)
		}
	}
	return rows
}

// Find returns the row for a port name
func (t DeviceTable) Find(port string) (DeviceRow, bool) {
	for _, row := range t {
		if row.Name == port {
			return row, true
		}
	}
	return DeviceRow{}, false
}

// Operation names the entry point that produced a run
type Operation string

const (
	OperationAvailableDevices Operation = "available_devices"
	OperationReadDeviceID     Operation = "read_device_id"
)

// DiscoveryResult is a completed discovery run
type DiscoveryResult struct {
	ID         uuid.UUID     `json:"id" db:"id"`
	Operation  Operation     `json:"operation" db:"operation"`
	BaudRate   int           `json:"baudrate" db:"baud_rate"`
	Timeout    time.Duration `json:"timeout" db:"timeout_ms"`
	StartedAt  time.Time     `json:"started_at" db:"started_at"`
	FinishedAt time.Time     `json:"finished_at" db:"finished_at"`
	Devices    DeviceTable   `json:"devices"`
}

// Duration returns how long the run took
func (r *DiscoveryResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// DeviceID is the single-port identification result: the request fields
// merged with the reported identity.
type DeviceID struct {
	Port          string         `json:"port"`
	BaudRate      int            `json:"baudrate"`
	Timeout       time.Duration  `json:"timeout,omitempty"`
	Settings      SerialSettings `json:"settings"`
	DeviceName    string         `json:"device_name"`
	DeviceVersion string         `json:"device_version"`
}
