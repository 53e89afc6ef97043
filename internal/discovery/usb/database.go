// internal/discovery/usb/database.go
package usb

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/gousb"
)

// VendorDatabase holds USB bridges and boards commonly found on nodes
type VendorDatabase struct {
	vendors map[gousb.ID]*VendorInfo
}

// VendorInfo contains vendor-specific information
type VendorInfo struct {
	Name     string
	products map[gousb.ID]string
}

// NewVendorDatabase creates and initializes the vendor database
func NewVendorDatabase() *VendorDatabase {
	db := &VendorDatabase{vendors: make(map[gousb.ID]*VendorInfo)}

	db.AddVendor(0x2341, "Arduino SA")
	db.AddProduct(0x2341, 0x0043, "Arduino Uno")
	db.AddProduct(0x2341, 0x0010, "Arduino Mega 2560")
	db.AddProduct(0x2341, 0x0042, "Arduino Mega 2560 R3")
	db.AddProduct(0x2341, 0x8036, "Arduino Leonardo")
	db.AddProduct(0x2341, 0x804d, "Arduino Zero")

	db.AddVendor(0x0403, "Future Technology Devices International")
	db.AddProduct(0x0403, 0x6001, "FT232R USB UART")
	db.AddProduct(0x0403, 0x6015, "FT231X USB UART")

	db.AddVendor(0x10c4, "Silicon Labs")
	db.AddProduct(0x10c4, 0xea60, "CP210x UART Bridge")

	db.AddVendor(0x1a86, "QinHeng Electronics")
	db.AddProduct(0x1a86, 0x7523, "CH340 serial converter")

	db.AddVendor(0x16c0, "Van Ooijen Technische Informatica")
	db.AddProduct(0x16c0, 0x0483, "Teensyduino Serial")

	db.AddVendor(0x239a, "Adafruit")
	db.AddVendor(0x303a, "Espressif")
	db.AddProduct(0x303a, 0x1001, "USB JTAG/serial debug unit")

	return db
}

// AddVendor registers a vendor, keeping known products when it already exists
func (db *VendorDatabase) AddVendor(vendorID gousb.ID, name string) {
	if vendor, ok := db.vendors[vendorID]; ok {
		vendor.Name = name
		return
	}
	db.vendors[vendorID] = &VendorInfo{Name: name, products: make(map[gousb.ID]string)}
}

// AddProduct adds a product to an existing vendor
func (db *VendorDatabase) AddProduct(vendorID, productID gousb.ID, name string) {
	if vendor, ok := db.vendors[vendorID]; ok {
		vendor.products[productID] = name
	}
}

// Lookup returns the vendor and product names for an ID pair. Product is
// empty for known vendors with an unlisted product.
func (db *VendorDatabase) Lookup(vendorID, productID gousb.ID) (vendor, product string, ok bool) {
	info, ok := db.vendors[vendorID]
	if !ok {
		return "", "", false
	}
	return info.Name, info.products[productID], true
}

// IsKnownVendor checks if a vendor ID is in the database
func (db *VendorDatabase) IsKnownVendor(vendorID gousb.ID) bool {
	_, ok := db.vendors[vendorID]
	return ok
}

// ParseID parses a hex USB ID as reported by port enumeration ("2341", "0x2341")
func ParseID(s string) (gousb.ID, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid USB ID %q: %w", s, err)
	}
	return gousb.ID(v), nil
}
