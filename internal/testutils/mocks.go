package testutils

import (
	"context"
	"time"

	"github.com/srg/deskctl/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockCharacteristic is a testify mock of device.Characteristic.
type MockCharacteristic struct {
	mock.Mock
	uuid string
}

// NewMockCharacteristic creates a mock characteristic with the given UUID.
func NewMockCharacteristic(uuid string) *MockCharacteristic {
	return &MockCharacteristic{uuid: uuid}
}

func (m *MockCharacteristic) UUID() string { return m.uuid }

func (m *MockCharacteristic) Read(timeout time.Duration) ([]byte, error) {
	args := m.Called(timeout)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *MockCharacteristic) Write(data []byte, withResponse bool, timeout time.Duration) error {
	return m.Called(data, withResponse, timeout).Error(0)
}

func (m *MockCharacteristic) Subscribe(handler func([]byte)) error {
	return m.Called(handler).Error(0)
}

func (m *MockCharacteristic) Unsubscribe() error {
	return m.Called().Error(0)
}

// MockSelector is a testify mock of device.Selector.
type MockSelector struct {
	mock.Mock
}

func (m *MockSelector) Select(ctx context.Context) (device.DeviceInfo, error) {
	args := m.Called(ctx)
	info, _ := args.Get(0).(device.DeviceInfo)
	return info, args.Error(1)
}

// StaticDeviceInfo is a fixed device.DeviceInfo.
type StaticDeviceInfo struct {
	DeviceName    string
	DeviceAddress string
	DeviceRSSI    int
	Services      []string
}

func (i StaticDeviceInfo) Name() string                 { return i.DeviceName }
func (i StaticDeviceInfo) Address() string              { return i.DeviceAddress }
func (i StaticDeviceInfo) RSSI() int                    { return i.DeviceRSSI }
func (i StaticDeviceInfo) AdvertisedServices() []string { return i.Services }

// StaticAdvertisement is a fixed device.Advertisement.
type StaticAdvertisement struct {
	Name        string
	Address     string
	Signal      int
	ServiceIDs  []string
	MfgData     []byte
	Unconnected bool
}

func (a StaticAdvertisement) LocalName() string        { return a.Name }
func (a StaticAdvertisement) ManufacturerData() []byte { return a.MfgData }
func (a StaticAdvertisement) Services() []string       { return a.ServiceIDs }
func (a StaticAdvertisement) Connectable() bool        { return !a.Unconnected }
func (a StaticAdvertisement) RSSI() int                { return a.Signal }
func (a StaticAdvertisement) Addr() string             { return a.Address }

// StaticScanner replays advertisements to every Scan call.
type StaticScanner struct {
	Advertisements []device.Advertisement
	Err            error
}

func (s *StaticScanner) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	for _, adv := range s.Advertisements {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		handler(adv)
	}
	if s.Err != nil {
		return s.Err
	}
	<-ctx.Done()
	return ctx.Err()
}
