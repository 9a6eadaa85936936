package backend

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/NeowayLabs/scanout/kms"
)

// Loop drives one device: it polls the card fd, decodes kernel events and
// dispatches them on a single goroutine, which is the only place device
// state is touched after startup.
type Loop struct {
	dev  *Device
	file *os.File

	// funcs carries closures from other goroutines onto the loop; the
	// self-pipe wakes the poll when one arrives.
	funcs chan func()
	pipe  [2]int
}

func NewLoop(dev *Device, file *os.File) (*Loop, error) {
	l := &Loop{dev: dev, file: file, funcs: make(chan func(), 16)}
	if err := unix.Pipe2(l.pipe[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("wake pipe: %w", err)
	}
	return l, nil
}

func (l *Loop) wake() {
	unix.Write(l.pipe[1], []byte{0})
}

// Post runs f on the event loop goroutine. It is the only Loop method safe
// to call from other goroutines.
func (l *Loop) Post(f func()) {
	l.funcs <- f
	l.wake()
}

// Run blocks until ctx is cancelled, handling flip events and posted
// closures.
func (l *Loop) Run(ctx context.Context) error {
	defer unix.Close(l.pipe[0])
	defer unix.Close(l.pipe[1])

	if err := unix.SetNonblock(int(l.file.Fd()), true); err != nil {
		return fmt.Errorf("set nonblock: %w", err)
	}

	go func() {
		<-ctx.Done()
		l.wake()
	}()

	fds := []unix.PollFd{
		{Fd: int32(l.file.Fd()), Events: unix.POLLIN},
		{Fd: int32(l.pipe[0]), Events: unix.POLLIN},
	}

	logger.Debug("event loop running", "device", l.dev.Name)
	for {
		fds[0].Revents = 0
		fds[1].Revents = 0
		_, err := unix.Poll(fds, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("poll: %w", err)
		}

		if fds[1].Revents != 0 {
			var drain [64]byte
			unix.Read(l.pipe[0], drain[:])
		}

		if err := ctx.Err(); err != nil {
			return err
		}

	drain:
		for {
			select {
			case f := <-l.funcs:
				f()
			default:
				break drain
			}
		}

		if fds[0].Revents&unix.POLLIN != 0 {
			events, err := kms.ReadEvents(l.file)
			if err != nil {
				logger.Error("reading drm events", "device", l.dev.Name, "err", err)
				continue
			}
			for _, ev := range events {
				if ev.Type == kms.EventFlipComplete || ev.Type == kms.EventVBlank {
					l.dev.HandleFlip(ev)
				}
			}
		}
	}
}
