package imresh

// KernelConfig names the target stream and the preferred launch shape for
// a device operation. Every device op validates its config on entry via
// Check, so callers may leave fields zero and get defaults.
type KernelConfig struct {
	Stream *Stream
	Grid   Dim3
	Block  Dim3
}

// DefaultKernelConfig returns a config targeting the default stream with
// the default launch shape.
func DefaultKernelConfig() KernelConfig {
	cfg := KernelConfig{}
	_ = cfg.Check()
	return cfg
}

// NewKernelConfig returns a config targeting the given stream with the
// default launch shape.
func NewKernelConfig(stream *Stream) KernelConfig {
	cfg := KernelConfig{Stream: stream}
	_ = cfg.Check()
	return cfg
}

// Check fills in defaults for unset fields and validates the launch
// shape. It is called at the entry of every device op.
func (c *KernelConfig) Check() error {
	if c.Stream == nil {
		c.Stream = defaultContext.defaultStream
	}
	if c.Grid == (Dim3{}) {
		c.Grid = Dim3{X: reduceGridSize, Y: 1, Z: 1}
	}
	if c.Block == (Dim3{}) {
		c.Block = Dim3{X: DefaultBlockSize, Y: 1, Z: 1}
	}
	if c.Grid.X <= 0 || c.Grid.Y <= 0 || c.Grid.Z <= 0 {
		return NewInvalidArgError("KernelConfig.Check", "grid dimensions must be positive")
	}
	if c.Block.X <= 0 || c.Block.Y <= 0 || c.Block.Z <= 0 {
		return NewInvalidArgError("KernelConfig.Check", "block dimensions must be positive")
	}
	if c.Block.Size() > MaxThreadsPerBlock {
		return NewInvalidArgError("KernelConfig.Check", "block exceeds maximum threads per block")
	}
	return nil
}
