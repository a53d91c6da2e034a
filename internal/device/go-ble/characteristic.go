package goble

import (
	"fmt"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/deskctl/internal/device"
)

// characteristic is a bound GATT characteristic of a link.
type characteristic struct {
	link *link
	char *ble.Characteristic
	uuid string
}

func (c *characteristic) UUID() string {
	return c.uuid
}

// Read reads the current value of the characteristic from the device with the specified timeout.
// This prevents indefinite blocking if the device becomes unresponsive during a read operation.
func (c *characteristic) Read(timeout time.Duration) ([]byte, error) {
	type readResult struct {
		data []byte
		err  error
	}
	resultCh := make(chan readResult, 1)

	go func() {
		data, err := c.link.client.ReadCharacteristic(c.char)
		resultCh <- readResult{data: data, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-resultCh:
		if result.err != nil {
			return nil, fmt.Errorf("failed to read characteristic %s: %w", c.uuid, NormalizeError(result.err))
		}
		return result.data, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: reading characteristic %s after %v", device.ErrTimeout, c.uuid, timeout)
	case <-c.link.Disconnected():
		return nil, fmt.Errorf("%w: reading characteristic %s", device.ErrLinkLost, c.uuid)
	}
}

// Write sends data in a single ATT write. Writes on a link are serialized.
func (c *characteristic) Write(data []byte, withResponse bool, timeout time.Duration) error {
	c.link.writeMu.Lock()
	defer c.link.writeMu.Unlock()

	resultCh := make(chan error, 1)
	go func() {
		resultCh <- c.link.client.WriteCharacteristic(c.char, data, !withResponse)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-resultCh:
		if err != nil {
			return fmt.Errorf("failed to write characteristic %s: %w", c.uuid, NormalizeError(err))
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: writing characteristic %s after %v", device.ErrTimeout, c.uuid, timeout)
	case <-c.link.Disconnected():
		return fmt.Errorf("%w: writing characteristic %s", device.ErrLinkLost, c.uuid)
	}
}

// Subscribe enables notifications (or indications when that is all the characteristic
// offers). handler runs on the transport goroutine in delivery order.
func (c *characteristic) Subscribe(handler func([]byte)) error {
	err := c.link.client.Subscribe(c.char, usesIndication(c.char.Property), func(data []byte) {
		handler(data)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to characteristic %s: %w", c.uuid, NormalizeError(err))
	}
	return nil
}

func (c *characteristic) Unsubscribe() error {
	if err := c.link.client.Unsubscribe(c.char, usesIndication(c.char.Property)); err != nil {
		return fmt.Errorf("failed to unsubscribe from characteristic %s: %w", c.uuid, NormalizeError(err))
	}
	return nil
}
