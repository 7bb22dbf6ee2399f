package cuda

import (
	"sync"

	"github.com/pkg/errors"
)

// Device identifies one compute device. It is a query handle, not an owned
// resource: the driver never requires devices to be released.
type Device struct {
	drv     *Driver
	ordinal int
	raw     RawDevice

	limitsOnce sync.Once
	limits     Limits
	limitsErr  error
}

// Limits are the device-reported launch bounds, cached on first query and
// used to validate launch configurations before submission.
type Limits struct {
	MaxThreadsPerBlock   int
	MaxBlockDim          Dim3
	MaxGridDim           Dim3
	MaxSharedMemPerBlock int
	WarpSize             int
}

// Ordinal returns the device's ordinal, as passed to Driver.Device.
func (dev *Device) Ordinal() int { return dev.ordinal }

// Name returns the human-readable device name.
func (dev *Device) Name() (string, error) {
	name, res := dev.drv.api.DeviceGetName(dev.raw)
	return name, status(res, "cuDeviceGetName")
}

// TotalMem returns the total device memory in bytes.
func (dev *Device) TotalMem() (uint64, error) {
	bytes, res := dev.drv.api.DeviceTotalMem(dev.raw)
	return bytes, status(res, "cuDeviceTotalMem")
}

// Attribute queries a single device attribute.
func (dev *Device) Attribute(attr DeviceAttribute) (int, error) {
	v, res := dev.drv.api.DeviceGetAttribute(attr, dev.raw)
	if err := status(res, "cuDeviceGetAttribute"); err != nil {
		return 0, errors.WithMessagef(err, "attribute %d", attr)
	}
	return v, nil
}

// ComputeCapability returns the device's compute capability version.
func (dev *Device) ComputeCapability() (major, minor int, err error) {
	if major, err = dev.Attribute(AttrComputeCapabilityMajor); err != nil {
		return
	}
	minor, err = dev.Attribute(AttrComputeCapabilityMinor)
	return
}

// Limits returns the launch bounds for this device, queried once and cached.
func (dev *Device) Limits() (Limits, error) {
	dev.limitsOnce.Do(func() {
		dev.limitsErr = dev.queryLimits()
	})
	return dev.limits, dev.limitsErr
}

func (dev *Device) queryLimits() error {
	dims := func(x, y, z DeviceAttribute) (Dim3, error) {
		var d Dim3
		vx, err := dev.Attribute(x)
		if err != nil {
			return d, err
		}
		vy, err := dev.Attribute(y)
		if err != nil {
			return d, err
		}
		vz, err := dev.Attribute(z)
		if err != nil {
			return d, err
		}
		return Dim3{X: uint32(vx), Y: uint32(vy), Z: uint32(vz)}, nil
	}

	var err error
	if dev.limits.MaxThreadsPerBlock, err = dev.Attribute(AttrMaxThreadsPerBlock); err != nil {
		return err
	}
	if dev.limits.MaxBlockDim, err = dims(AttrMaxBlockDimX, AttrMaxBlockDimY, AttrMaxBlockDimZ); err != nil {
		return err
	}
	if dev.limits.MaxGridDim, err = dims(AttrMaxGridDimX, AttrMaxGridDimY, AttrMaxGridDimZ); err != nil {
		return err
	}
	if dev.limits.MaxSharedMemPerBlock, err = dev.Attribute(AttrMaxSharedMemoryPerBlock); err != nil {
		return err
	}
	dev.limits.WarpSize, err = dev.Attribute(AttrWarpSize)
	return err
}
