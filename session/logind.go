// Package session brokers DRM device access through systemd-logind, so the
// process can run without root and survive VT switches: logind hands out
// device fds and revokes DRM master when the session deactivates.
package session

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"
)

var logger = log.WithPrefix("session")

const (
	logindService = "org.freedesktop.login1"
	managerPath   = dbus.ObjectPath("/org/freedesktop/login1")
	managerIface  = "org.freedesktop.login1.Manager"
	sessionIface  = "org.freedesktop.login1.Session"
)

// EventType classifies device lifecycle signals from logind.
type EventType int

const (
	// DevicePaused: the session lost the device (VT switch away). DRM
	// master is already revoked; commits will fail with EACCES until the
	// matching resume.
	DevicePaused EventType = iota
	// DeviceResumed: the session regained the device.
	DeviceResumed
	// DeviceGone: the device was removed.
	DeviceGone
	// SessionActive / SessionInactive track the session Active property.
	SessionActive
	SessionInactive
)

// Event is one device or session state change.
type Event struct {
	Type         EventType
	Major, Minor uint32

	// Fd is the replacement fd on DeviceResumed for evdev-style devices;
	// nil for DRM devices, which keep their fd across pause/resume.
	Fd *os.File
}

// Session is control of one logind session. All methods are safe from the
// owning goroutine only.
type Session struct {
	conn *dbus.Conn
	obj  dbus.BusObject
	id   string

	signals chan *dbus.Signal
	events  chan Event
	done    chan struct{}
}

// Take connects to the system bus, resolves the caller's session and takes
// control of it.
func Take() (*Session, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("system bus: %w", err)
	}

	mgr := conn.Object(logindService, managerPath)

	var path dbus.ObjectPath
	if err := mgr.Call(managerIface+".GetSession", 0, "auto").Store(&path); err != nil {
		// Older logind has no "auto"; fall back to the caller's PID.
		if err := mgr.Call(managerIface+".GetSessionByPID", 0, uint32(os.Getpid())).Store(&path); err != nil {
			conn.Close()
			return nil, fmt.Errorf("resolving session: %w", err)
		}
	}

	s := &Session{
		conn:    conn,
		obj:     conn.Object(logindService, path),
		signals: make(chan *dbus.Signal, 16),
		events:  make(chan Event, 16),
		done:    make(chan struct{}),
	}

	if v, err := s.obj.GetProperty(sessionIface + ".Id"); err == nil {
		v.Store(&s.id)
	}

	if err := s.obj.Call(sessionIface+".TakeControl", 0, false).Err; err != nil {
		conn.Close()
		return nil, fmt.Errorf("TakeControl: %w", err)
	}

	for _, member := range []string{"PauseDevice", "ResumeDevice"} {
		err := conn.AddMatchSignal(
			dbus.WithMatchInterface(sessionIface),
			dbus.WithMatchMember(member),
			dbus.WithMatchObjectPath(path),
		)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("subscribing to %s: %w", member, err)
		}
	}
	err = conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchObjectPath(path),
	)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("subscribing to PropertiesChanged: %w", err)
	}

	conn.Signal(s.signals)
	go s.dispatch()

	logger.Info("session control taken", "session", s.id)
	return s, nil
}

// Events delivers device pause/resume and session activity changes.
func (s *Session) Events() <-chan Event { return s.events }

// TakeDevice opens a device node through logind. The returned file carries
// DRM master for card nodes while the session is active.
func (s *Session) TakeDevice(devPath string) (*os.File, error) {
	major, minor, err := devNumbers(devPath)
	if err != nil {
		return nil, err
	}

	var (
		fd       dbus.UnixFD
		inactive bool
	)
	err = s.obj.Call(sessionIface+".TakeDevice", 0, major, minor).Store(&fd, &inactive)
	if err != nil {
		return nil, fmt.Errorf("TakeDevice %s: %w", devPath, err)
	}
	if inactive {
		logger.Debug("device taken while session inactive", "path", devPath)
	}
	return os.NewFile(uintptr(fd), devPath), nil
}

// ReleaseDevice returns a device to logind and closes the file.
func (s *Session) ReleaseDevice(file *os.File) error {
	major, minor, err := devNumbers(file.Name())
	if err != nil {
		file.Close()
		return err
	}
	call := s.obj.Call(sessionIface+".ReleaseDevice", 0, major, minor)
	file.Close()
	return call.Err
}

// Close releases session control and disconnects from the bus.
func (s *Session) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	close(s.done)
	s.obj.Call(sessionIface+".ReleaseControl", 0)
	return s.conn.Close()
}

func (s *Session) dispatch() {
	for sig := range s.signals {
		select {
		case <-s.done:
			return
		default:
		}
		switch sig.Name {
		case sessionIface + ".PauseDevice":
			s.handlePause(sig)
		case sessionIface + ".ResumeDevice":
			s.handleResume(sig)
		case "org.freedesktop.DBus.Properties.PropertiesChanged":
			s.handleProperties(sig)
		}
	}
}

func (s *Session) handlePause(sig *dbus.Signal) {
	if len(sig.Body) < 3 {
		return
	}
	major, _ := sig.Body[0].(uint32)
	minor, _ := sig.Body[1].(uint32)
	kind, _ := sig.Body[2].(string)

	typ := DevicePaused
	if kind == "gone" {
		typ = DeviceGone
	}
	s.emit(Event{Type: typ, Major: major, Minor: minor})

	// "pause" (as opposed to "force") waits for our acknowledgement
	// before logind proceeds with the VT switch.
	if kind == "pause" {
		s.obj.Call(sessionIface+".PauseDeviceComplete", 0, major, minor)
	}
}

func (s *Session) handleResume(sig *dbus.Signal) {
	if len(sig.Body) < 3 {
		return
	}
	major, _ := sig.Body[0].(uint32)
	minor, _ := sig.Body[1].(uint32)

	// DRM devices keep their fd across pause/resume; for everything else
	// logind sends a replacement fd.
	ev := Event{Type: DeviceResumed, Major: major, Minor: minor}
	if fd, ok := sig.Body[2].(dbus.UnixFD); ok && major != drmMajor {
		ev.Fd = os.NewFile(uintptr(fd), fmt.Sprintf("dev %d:%d", major, minor))
	}
	s.emit(ev)
}

func (s *Session) handleProperties(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}
	if v, ok := changed["Active"]; ok {
		var active bool
		if v.Store(&active) == nil {
			if active {
				s.emit(Event{Type: SessionActive})
			} else {
				s.emit(Event{Type: SessionInactive})
			}
		}
	}
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		logger.Warn("session event dropped", "type", ev.Type)
	}
}

const drmMajor = 226

func devNumbers(path string) (uint32, uint32, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, 0, fmt.Errorf("stat %s: %w", path, err)
	}
	rdev := uint64(st.Rdev)
	return uint32(unix.Major(rdev)), uint32(unix.Minor(rdev)), nil
}

