package gateway

import (
	"encoding/hex"

	"github.com/denisbrodbeck/machineid"
	"github.com/pkg/errors"
)

// DeviceID 由本机machine-id派生设备标识, 同一appID在同一台机器上结果不变.
func DeviceID(appID string) ([]byte, error) {
	s, err := machineid.ProtectedID(appID)
	if err != nil {
		return nil, errors.Wrap(err, "machine id")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "machine id")
	}
	if len(b) < DeviceIDLen {
		return nil, errors.Errorf("machine id too short: %d bytes", len(b))
	}
	return b[:DeviceIDLen], nil
}

// ParseDeviceID 解析十六进制设备标识.
func ParseDeviceID(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "device id")
	}
	if len(b) != DeviceIDLen {
		return nil, errors.Errorf("device id must be %d bytes, got %d", DeviceIDLen, len(b))
	}
	return b, nil
}
