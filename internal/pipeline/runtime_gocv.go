//go:build gocv && cgo && !govips

package pipeline

// OpenCV needs no process-wide setup.

const Backend = "gocv"

func Startup() error {
	return nil
}

func Shutdown() {}

func newRenderer() (Renderer, error) {
	return gocvRenderer{}, nil
}
