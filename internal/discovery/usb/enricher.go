// internal/discovery/usb/enricher.go
package usb

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/gousb"
	"go.uber.org/zap"

	"node-service/internal/model"
)

// descriptor is what the enricher reads from an attached device
type descriptor struct {
	vendor       gousb.ID
	product      gousb.ID
	manufacturer string
	productName  string
	serialNumber string
}

// Enricher fills in manufacturer and product names for USB serial ports,
// first from the vendor database and then from the devices' own string
// descriptors when libusb access is available.
type Enricher struct {
	db     *VendorDatabase
	logger *zap.Logger

	readDescriptors func() ([]descriptor, error)
}

// NewEnricher creates an enricher. With readDevices false only the vendor
// database is consulted.
func NewEnricher(db *VendorDatabase, readDevices bool, logger *zap.Logger) *Enricher {
	e := &Enricher{
		db:     db,
		logger: logger.With(zap.String("component", "usb-enricher")),
	}
	if readDevices {
		e.readDescriptors = e.readAttachedDevices
	}
	return e
}

// Enrich returns ports with USB metadata filled in. Ports it cannot match
// are returned unchanged.
func (e *Enricher) Enrich(ctx context.Context, ports []model.Port) []model.Port {
	var attached []descriptor
	if e.readDescriptors != nil && hasUSB(ports) {
		var err error
		if attached, err = e.readDescriptors(); err != nil {
			e.logger.Debug("USB descriptors unavailable", zap.Error(err))
		}
	}

	enriched := make([]model.Port, len(ports))
	for i, port := range ports {
		enriched[i] = e.enrichPort(port, attached)
	}
	return enriched
}

func (e *Enricher) enrichPort(port model.Port, attached []descriptor) model.Port {
	if !port.IsUSB || port.VID == "" {
		return port
	}
	vid, err := ParseID(port.VID)
	if err != nil {
		return port
	}
	pid, _ := ParseID(port.PID)

	if vendor, product, ok := e.db.Lookup(vid, pid); ok {
		if port.Manufacturer == "" {
			port.Manufacturer = vendor
		}
		if port.Description == "" && product != "" {
			port.Description = product
		}
	}

	for _, d := range attached {
		if d.vendor != vid || d.product != pid {
			continue
		}
		if port.SerialNumber != "" && d.serialNumber != "" && d.serialNumber != port.SerialNumber {
			continue
		}
		if d.manufacturer != "" {
			port.Manufacturer = d.manufacturer
		}
		if port.Product == "" {
			port.Product = d.productName
		}
		break
	}

	if port.Description == "" {
		port.Description = describe(port, vid, pid)
	}
	return port
}

func (e *Enricher) readAttachedDevices() (descs []descriptor, err error) {
	// libusb reports some failures by panicking inside gousb
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("usb enumeration panicked: %v", r)
		}
	}()

	usbCtx := gousb.NewContext()
	defer usbCtx.Close()

	devices, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return e.db.IsKnownVendor(desc.Vendor)
	})
	defer func() {
		for _, device := range devices {
			if cerr := device.Close(); cerr != nil {
				e.logger.Debug("Failed to close USB device", zap.Error(cerr))
			}
		}
	}()
	if err != nil && len(devices) == 0 {
		return nil, fmt.Errorf("failed to open USB devices: %w", err)
	}

	for _, device := range devices {
		d := descriptor{vendor: device.Desc.Vendor, product: device.Desc.Product}
		d.manufacturer, _ = device.Manufacturer()
		d.productName, _ = device.Product()
		d.serialNumber, _ = device.SerialNumber()
		descs = append(descs, d)
	}
	return descs, nil
}

func hasUSB(ports []model.Port) bool {
	for _, port := range ports {
		if port.IsUSB {
			return true
		}
	}
	return false
}

func describe(port model.Port, vid, pid gousb.ID) string {
	if product := strings.TrimSpace(port.Product); product != "" {
		return product
	}
	return fmt.Sprintf("USB %s:%s", vid, pid)
}
