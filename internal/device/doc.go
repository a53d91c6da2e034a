// Package device defines the Bluetooth Low Energy (BLE) central abstractions the desk
// controller is built on.
//
// It covers:
//   - Peripheral discovery (ScanningDevice, Advertisement, Selector)
//   - GATT links and characteristics (Dialer, Link, Characteristic)
//   - The connection error taxonomy shared by all layers (ConnectionError, NotFoundError)
//   - UUID normalization for consistent characteristic lookup
//
// The go-ble subpackage provides the production implementation.
package device
