package goble

import (
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/deskctl/internal/device"
)

// gattClient is the part of ble.Client used by a link.
type gattClient interface {
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
	Disconnected() <-chan struct{}
}

// link is an open GATT connection with its discovered profile.
type link struct {
	client  gattClient
	address string
	name    string
	logger  *logrus.Logger

	// services maps normalized service UUIDs to their characteristics by normalized UUID.
	services map[string]map[string]*ble.Characteristic

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newLink(client gattClient, address, name string, profile *ble.Profile, logger *logrus.Logger) *link {
	l := &link{
		client:   client,
		address:  address,
		name:     name,
		logger:   logger,
		services: make(map[string]map[string]*ble.Characteristic),
	}
	if profile == nil {
		return l
	}

	for _, svc := range profile.Services {
		svcUUID := device.NormalizeUUID(svc.UUID.String())
		chars, ok := l.services[svcUUID]
		if !ok {
			chars = make(map[string]*ble.Characteristic)
			l.services[svcUUID] = chars
		}
		for _, char := range svc.Characteristics {
			charUUID := device.NormalizeUUID(char.UUID.String())
			chars[charUUID] = char
			logger.WithFields(logrus.Fields{
				"service_uuid": svcUUID,
				"char_uuid":    charUUID,
				"properties":   PropertyNames(char.Property),
			}).Debug("Found characteristic")
		}
	}
	return l
}

func (l *link) Address() string { return l.address }

func (l *link) Name() string { return l.name }

// Characteristic implements device.Link. Both UUIDs are normalized for lookup.
func (l *link) Characteristic(service, uuid string) (device.Characteristic, error) {
	chars, ok := l.services[device.NormalizeUUID(service)]
	if !ok {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{service}}
	}
	char, ok := chars[device.NormalizeUUID(uuid)]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, uuid}}
	}
	return &characteristic{link: l, char: char, uuid: device.NormalizeUUID(uuid)}, nil
}

func (l *link) Disconnected() <-chan struct{} {
	return l.client.Disconnected()
}

// Close cancels the connection once; later calls return the first result.
func (l *link) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = NormalizeError(l.client.CancelConnection())
		l.logger.WithField("address", l.address).Debug("BLE connection cancelled")
	})
	return l.closeErr
}
