package safe

import (
	"HProject/logger"
)

// Go starts a new goroutine that recovers from panic,
// so that panics don't crash the entire program.
func Go(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[safe.Go] panic recovered: %v", r)
			}
		}()
		f()
	}()
}

// Invoke runs f in the current goroutine and absorbs its panic.
// Used for subscriber callbacks: one faulty handler must not stop
// delivery to the others.
func Invoke(name string, f func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[safe.Invoke] handler %s panicked: %v", name, r)
		}
	}()
	f()
}
