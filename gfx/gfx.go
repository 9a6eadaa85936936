package gfx

// DevID identifies a GPU device. Contexts and buffer objects created on the
// same device share one DevID; cross-device buffer sharing (the bridged
// scanout path) triggers when render and scanout DevIDs differ.
type DevID uint64

// FormatInfo describes what a context can do with one pixel format.
type FormatInfo struct {
	// Read holds the modifiers the context can sample from.
	Read ModifierSet
	// Write holds the modifiers the context can render to.
	Write ModifierSet
}

// Rect is a pixel rectangle. Plane source rectangles on the kernel side use
// 16.16 fixed point; conversion happens at the property boundary, Rect is
// always integer pixels.
type Rect struct {
	X, Y, W, H int32
}

// ColorDescription is the color freshly-allocated buffers are cleared to
// before their first present.
type ColorDescription struct {
	R, G, B, A float32
}

var Black = ColorDescription{0, 0, 0, 1}

// Context is a GPU rendering context. Implementations wrap an EGL or
// Vulkan device; tests use in-memory fakes.
type Context interface {
	DevID() DevID
	Name() string

	// Formats reports per-format read/write modifier support.
	Formats() map[Format]*FormatInfo

	// DmabufImg imports a buffer object into the context.
	DmabufImg(bo Bo) (Image, error)

	// ClearFramebuffer fills a render target with a solid color.
	ClearFramebuffer(fb Framebuffer, c ColorDescription) error

	// CopyTexture schedules a GPU blit from src into dst. Used on the
	// bridged path to move pixels from the render device into the scanout
	// device's buffer.
	CopyTexture(dst Framebuffer, src Texture, srcRect, dstRect Rect) error
}

// Image is an imported dma-buf, convertible to the two GPU-side bindings.
type Image interface {
	// ToTexture makes the image samplable.
	ToTexture() (Texture, error)
	// ToFramebuffer makes the image renderable.
	ToFramebuffer() (Framebuffer, error)
}

// Texture is a samplable GPU binding with explicit reference counting. The
// direct-scanout cache keys on textures and prunes entries whose strong
// count reached zero; the reservation count delays pool-level reuse while
// the kernel is still scanning the texture's buffer out.
type Texture interface {
	Size() (w, h uint32)
	Format() Format

	Retain()
	Release()
	Refs() int

	Reserve()
	Unreserve()
}

// Framebuffer is a renderable GPU binding (render target).
type Framebuffer interface {
	Size() (w, h uint32)
}
