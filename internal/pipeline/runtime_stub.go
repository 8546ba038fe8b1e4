//go:build !cgo || (!govips && !gocv)

package pipeline

const Backend = "imaging"

func Startup() error {
	return nil
}

func Shutdown() {}

func newRenderer() (Renderer, error) {
	return imagingRenderer{}, nil
}
