package backend

import (
	"fmt"

	"github.com/NeowayLabs/scanout/kms"
)

// ConnectorErrorKind enumerates the per-connector assignment failures of
// CalculateDrmState. The taxonomy is closed; callers switch on Kind.
type ConnectorErrorKind int

const (
	// ErrNoCrtc: every CRTC the connector can drive is claimed.
	ErrNoCrtc ConnectorErrorKind = iota + 1
	// ErrNoPrimaryPlane: no free primary plane supports the requested
	// format on the assigned CRTC.
	ErrNoPrimaryPlane
	// ErrUnsupportedMode: the requested mode is not advertised by the
	// connector.
	ErrUnsupportedMode
	// ErrBufferAllocation: scanout buffer allocation failed (the cause is
	// a render.AllocError or render.ScanoutBufferError).
	ErrBufferAllocation
	// ErrCreateBlob: the kernel refused the mode property blob.
	ErrCreateBlob
	// ErrCapability: the desired state needs a capability the connector or
	// device does not have (VRR, tearing, color space, transfer function).
	ErrCapability
)

func (k ConnectorErrorKind) String() string {
	switch k {
	case ErrNoCrtc:
		return "no CRTC available"
	case ErrNoPrimaryPlane:
		return "no primary plane available"
	case ErrUnsupportedMode:
		return "unsupported mode"
	case ErrBufferAllocation:
		return "buffer allocation failed"
	case ErrCreateBlob:
		return "mode blob creation failed"
	case ErrCapability:
		return "capability unsupported"
	}
	return fmt.Sprintf("connector error %d", int(k))
}

// ConnectorError attributes an assignment failure to one connector.
type ConnectorError struct {
	Kind      ConnectorErrorKind
	Connector kms.ConnectorID
	Name      string
	Detail    string // e.g. the requested value for ErrCapability
	Cause     error
}

func (e *ConnectorError) Error() string {
	s := fmt.Sprintf("connector %s (%d): %s", e.Name, e.Connector, e.Kind)
	if e.Detail != "" {
		s += ": " + e.Detail
	}
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *ConnectorError) Unwrap() error { return e.Cause }

// CommitErrorKind enumerates transaction-wide kernel failures.
type CommitErrorKind int

const (
	// ErrAtomicTestFailed: the TEST_ONLY submission was rejected.
	ErrAtomicTestFailed CommitErrorKind = iota + 1
	// ErrAtomicCommitFailed: the commit failed even with modesets allowed.
	ErrAtomicCommitFailed
)

func (k CommitErrorKind) String() string {
	switch k {
	case ErrAtomicTestFailed:
		return "atomic test failed"
	case ErrAtomicCommitFailed:
		return "atomic commit failed"
	}
	return fmt.Sprintf("commit error %d", int(k))
}

type CommitError struct {
	Kind  CommitErrorKind
	Cause error
}

func (e *CommitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
	}
	return e.Kind.String()
}

func (e *CommitError) Unwrap() error { return e.Cause }
