package netdev

import "github.com/brennanlowe/kbnet/kerrors"

const opValidate = "netdev.Config.Validate"

// IovaMode selects how the configured vdev(s) expect to address memory
// handed to hardware. This backend never does real IOMMU/DMA setup, but
// the field is retained so a Config built here documents the same
// intent a real EAL bring-up would need.
type IovaMode int

const (
	IovaModeAuto IovaMode = iota
	IovaModePA
	IovaModeVA
)

// VdevKind selects which in-process netdev backend a Config should bind,
// in the absence of a real PCI NIC.
type VdevKind string

const (
	VdevRing VdevKind = "ring"
	VdevNull VdevKind = "null"
	VdevRaw  VdevKind = "raw"
)

// Config is a pure data-holding builder describing how to bring up a set
// of devices: core pinning, memory, and which concrete devices to probe.
// It does not bootstrap a real kernel-bypass environment, and no code in
// this module builds a Driver from it; Validate is the only consumer.
type Config struct {
	// Coremask/Corelist mirror DPDK's EAL core-selection flags: Coremask
	// is a bitmask of logical CPUs, Corelist an explicit list. Both are
	// carried as data only; nothing here resolves one against the other.
	Coremask uint64
	Corelist []int

	// PCIAllow/PCIDeny restrict device probing to (or away from)
	// specific PCI addresses. Unused by the in-process vdev backends,
	// carried here so a real NIC binding can share this Config shape.
	PCIAllow []string
	PCIDeny  []string

	HugepagesMB int
	IovaMode    IovaMode

	VdevKind  VdevKind
	MaxQueues uint16

	// DeviceProbe lists the device names/addresses to bring up, in
	// order. It is carried as data only; nothing in this module turns
	// its entries into netdev.Device values.
	DeviceProbe []string

	LogLevel string
}

// DefaultConfig returns a single-queue, single ring-vdev configuration
// suitable for tests and the demo binary.
func DefaultConfig() Config {
	return Config{
		Corelist:    []int{0},
		HugepagesMB: 0,
		IovaMode:    IovaModeAuto,
		VdevKind:    VdevRing,
		MaxQueues:   1,
		DeviceProbe: []string{"vdev0"},
		LogLevel:    "info",
	}
}

// Validate checks the Config for internal consistency.
func (c Config) Validate() error {
	if c.MaxQueues == 0 {
		return kerrors.New(opValidate, kerrors.CodeInvalidArg, "MaxQueues must be > 0")
	}
	if len(c.DeviceProbe) == 0 {
		return kerrors.New(opValidate, kerrors.CodeInvalidArg, "DeviceProbe must name at least one device")
	}
	switch c.VdevKind {
	case VdevRing, VdevNull, VdevRaw, "":
	default:
		return kerrors.New(opValidate, kerrors.CodeInvalidArg, "unknown VdevKind")
	}
	if len(c.PCIAllow) > 0 && len(c.PCIDeny) > 0 {
		return kerrors.New(opValidate, kerrors.CodeInvalidArg, "PCIAllow and PCIDeny are mutually exclusive")
	}
	return nil
}
