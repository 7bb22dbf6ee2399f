//go:build !linux

package cuda

import "github.com/pkg/errors"

// The purego binding targets the Linux driver library. On other platforms
// Load fails cleanly; NewDriver with a custom API implementation still works.
func loadSystemAPI() (API, error) {
	return nil, errors.New("the CUDA driver binding is only available on Linux; use cuda.NewDriver with a custom API implementation")
}
