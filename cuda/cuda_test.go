package cuda

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestContext stands up a Driver over the fake API with a context created
// and made current, the common fixture for most tests.
func newTestContext(t *testing.T) (*fakeDriver, *Driver, *Context) {
	t.Helper()
	fake := newFakeDriver()
	drv := NewDriver(fake)
	require.NoError(t, drv.Init())
	dev, err := drv.Device(0)
	require.NoError(t, err)
	ctx, err := dev.NewContext(0)
	require.NoError(t, err)
	require.NoError(t, ctx.SetCurrent())
	t.Cleanup(func() { _ = ctx.Destroy() })
	return fake, drv, ctx
}

const testImage = fakeImageMagic + `
.target sm_80
.entry identity
.entry axpy
.entry rsqrt
`

func loadTestModule(t *testing.T, ctx *Context) *Module {
	t.Helper()
	mod, err := ctx.LoadModule([]byte(testImage))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mod.Unload() })
	return mod
}
