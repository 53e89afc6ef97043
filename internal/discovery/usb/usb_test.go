package usb

import (
	"context"
	"errors"
	"testing"

	"github.com/google/gousb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"node-service/internal/model"
)

func TestParseID(t *testing.T) {
	id, err := ParseID("0x2341")
	require.NoError(t, err)
	assert.Equal(t, gousb.ID(0x2341), id)

	id, err = ParseID("EA60")
	require.NoError(t, err)
	assert.Equal(t, gousb.ID(0xea60), id)

	_, err = ParseID("zz")
	assert.Error(t, err)
}

func TestVendorDatabaseLookup(t *testing.T) {
	db := NewVendorDatabase()

	vendor, product, ok := db.Lookup(0x2341, 0x0043)
	require.True(t, ok)
	assert.Equal(t, "Arduino SA", vendor)
	assert.Equal(t, "Arduino Uno", product)

	vendor, product, ok = db.Lookup(0x239a, 0x8014)
	require.True(t, ok)
	assert.Equal(t, "Adafruit", vendor)
	assert.Empty(t, product)

	_, _, ok = db.Lookup(0x04b8, 0x0202)
	assert.False(t, ok)
}

func TestEnricherFromDatabase(t *testing.T) {
	e := NewEnricher(NewVendorDatabase(), false, zap.NewNop())
	ports := []model.Port{
		{Name: "/dev/ttyACM0", IsUSB: true, VID: "2341", PID: "0043"},
		{Name: "/dev/ttyUSB0", IsUSB: true, VID: "1209", PID: "0001", Product: "Custom Node"},
		{Name: "/dev/ttyS0"},
	}

	enriched := e.Enrich(context.Background(), ports)

	require.Len(t, enriched, 3)
	assert.Equal(t, "Arduino SA", enriched[0].Manufacturer)
	assert.Equal(t, "Arduino Uno", enriched[0].Description)
	assert.Empty(t, enriched[1].Manufacturer)
	assert.Equal(t, "Custom Node", enriched[1].Description)
	assert.Equal(t, ports[2], enriched[2])
	assert.Empty(t, ports[0].Manufacturer, "input is not modified")
}

func TestEnricherPrefersDeviceDescriptors(t *testing.T) {
	e := NewEnricher(NewVendorDatabase(), false, zap.NewNop())
	e.readDescriptors = func() ([]descriptor, error) {
		return []descriptor{
			{vendor: 0x0403, product: 0x6001, manufacturer: "FTDI", productName: "Other", serialNumber: "X9"},
			{vendor: 0x0403, product: 0x6001, manufacturer: "FTDI", productName: "Pump Controller", serialNumber: "A7"},
		}, nil
	}

	enriched := e.Enrich(context.Background(), []model.Port{
		{Name: "COM7", IsUSB: true, VID: "0403", PID: "6001", SerialNumber: "A7"},
	})

	assert.Equal(t, "FTDI", enriched[0].Manufacturer)
	assert.Equal(t, "Pump Controller", enriched[0].Product)
	assert.Equal(t, "FT232R USB UART", enriched[0].Description)
}

func TestEnricherToleratesDescriptorFailure(t *testing.T) {
	e := NewEnricher(NewVendorDatabase(), false, zap.NewNop())
	e.readDescriptors = func() ([]descriptor, error) { return nil, errors.New("libusb unavailable") }

	enriched := e.Enrich(context.Background(), []model.Port{
		{Name: "COM8", IsUSB: true, VID: "10c4", PID: "ea60"},
	})
	assert.Equal(t, "Silicon Labs", enriched[0].Manufacturer)
	assert.Equal(t, "CP210x UART Bridge", enriched[0].Description)
}
