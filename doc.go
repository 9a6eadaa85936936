// Package scanout provides a library to drive the DRM (Direct Rendering
// Manager) and KMS (Kernel Mode Setting) interfaces of a graphics card
// through the atomic modesetting API. It implements the display-transaction
// core of a display server backend: computing, validating and atomically
// applying changes to the display pipeline (connectors, CRTCs, planes) and
// allocating the buffers shown on screen.
package scanout
