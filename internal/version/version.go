// ABOUTME: Version information for ohreceiver
// ABOUTME: Reported in logs and mDNS records
package version

const (
	// Product is the product name
	Product = "ohreceiver"

	// Manufacturer is the project name advertised alongside the product
	Manufacturer = "ohreceiver project"

	// Version is the current version
	Version = "0.1.0"
)
