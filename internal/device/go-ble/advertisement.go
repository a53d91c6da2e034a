package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/deskctl/internal/device"
)

// BLEAdvertisement wraps ble.Advertisement to implement device.Advertisement interface
type BLEAdvertisement struct {
	adv ble.Advertisement
}

// NewBLEAdvertisement creates a new BLEAdvertisement wrapper
func NewBLEAdvertisement(adv ble.Advertisement) device.Advertisement {
	return &BLEAdvertisement{adv: adv}
}

func (a *BLEAdvertisement) LocalName() string        { return a.adv.LocalName() }
func (a *BLEAdvertisement) ManufacturerData() []byte { return a.adv.ManufacturerData() }
func (a *BLEAdvertisement) Connectable() bool        { return a.adv.Connectable() }
func (a *BLEAdvertisement) RSSI() int                { return a.adv.RSSI() }
func (a *BLEAdvertisement) Addr() string             { return a.adv.Addr().String() }

// Services returns the advertised service UUIDs, including overflow services, in
// normalized form.
func (a *BLEAdvertisement) Services() []string {
	advertised := a.adv.Services()
	overflow := a.adv.OverflowService()
	result := make([]string, 0, len(advertised)+len(overflow))
	for _, svc := range advertised {
		result = append(result, device.NormalizeUUID(svc.String()))
	}
	for _, svc := range overflow {
		result = append(result, device.NormalizeUUID(svc.String()))
	}
	return result
}
