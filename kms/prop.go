package kms

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"unsafe"

	"github.com/NeowayLabs/scanout/ioctl"
)

// Property flags (drm_mode_get_property.flags).
const (
	PropPending   = 1 << 0
	PropRange     = 1 << 1
	PropImmutable = 1 << 2
	PropEnum      = 1 << 3
	PropBlob      = 1 << 4
	PropBitmask   = 1 << 5
)

type (
	// Property is the metadata of one kernel property: its name, flags and,
	// for enum properties, the name→value mapping.
	Property struct {
		ID    PropertyID
		Name  string
		Flags uint32

		Values []uint64
		Enums  map[string]uint64
	}

	// PropValue pairs a property with its current value on some object.
	PropValue struct {
		Property
		Value uint64
	}

	// PropertySet holds the properties of one kernel object, as returned by
	// ObjectProperties. Lookups are by name; the kernel guarantees names are
	// unique per object.
	PropertySet struct {
		props []PropValue
	}
)

func GetProperty(file *os.File, id PropertyID) (*Property, error) {
	prop := &sysGetProperty{}
	prop.propID = uint32(id)

	err := ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeGetProperty),
		uintptr(unsafe.Pointer(prop)))
	if err != nil {
		return nil, err
	}

	var (
		values []uint64
		enums  []sysPropertyEnum
	)

	if prop.countValues > 0 {
		values = make([]uint64, prop.countValues)
		prop.valuesPtr = uint64(uintptr(unsafe.Pointer(&values[0])))
	}
	if prop.countEnumBlobs > 0 && prop.flags&(PropEnum|PropBitmask) != 0 {
		enums = make([]sysPropertyEnum, prop.countEnumBlobs)
		prop.enumBlobPtr = uint64(uintptr(unsafe.Pointer(&enums[0])))
	}

	err = ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeGetProperty),
		uintptr(unsafe.Pointer(prop)))
	if err != nil {
		return nil, err
	}

	ret := &Property{
		ID:     PropertyID(prop.propID),
		Name:   string(bytes.TrimRight(prop.name[:], "\x00")),
		Flags:  prop.flags,
		Values: values,
	}
	if len(enums) > 0 {
		ret.Enums = make(map[string]uint64, len(enums))
		for _, e := range enums {
			ret.Enums[string(bytes.TrimRight(e.name[:], "\x00"))] = e.value
		}
	}
	return ret, nil
}

// ObjectProperties fetches every property attached to a kernel object
// together with its current value.
func ObjectProperties(file *os.File, obj ObjectHandle) (*PropertySet, error) {
	op := &sysObjGetProperties{}
	op.objID = obj.Raw()
	op.objType = obj.ObjectType()

	err := ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeObjGetProperties),
		uintptr(unsafe.Pointer(op)))
	if err != nil {
		return nil, err
	}

	var (
		ids    []uint32
		values []uint64
	)
	if op.countProps > 0 {
		ids = make([]uint32, op.countProps)
		op.propsPtr = uint64(uintptr(unsafe.Pointer(&ids[0])))
		values = make([]uint64, op.countProps)
		op.propValuesPtr = uint64(uintptr(unsafe.Pointer(&values[0])))
	}

	err = ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeObjGetProperties),
		uintptr(unsafe.Pointer(op)))
	if err != nil {
		return nil, err
	}

	set := &PropertySet{props: make([]PropValue, 0, op.countProps)}
	for i := uint32(0); i < op.countProps; i++ {
		prop, err := GetProperty(file, PropertyID(ids[i]))
		if err != nil {
			return nil, fmt.Errorf("property %d of object %d: %w", ids[i], op.objID, err)
		}
		set.props = append(set.props, PropValue{Property: *prop, Value: values[i]})
	}
	return set, nil
}

func (s *PropertySet) Get(name string) (PropValue, bool) {
	for _, p := range s.props {
		if p.Name == name {
			return p, true
		}
	}
	return PropValue{}, false
}

func (s *PropertySet) ID(name string) PropertyID {
	p, ok := s.Get(name)
	if !ok {
		return PropertyNone
	}
	return p.Property.ID
}

func (s *PropertySet) Value(name string) (uint64, bool) {
	p, ok := s.Get(name)
	return p.Value, ok
}

// EnumValue resolves the numeric value of one enum entry, e.g.
// EnumValue("type", "Primary") on a plane.
func (s *PropertySet) EnumValue(propName, enumName string) (uint64, bool) {
	p, ok := s.Get(propName)
	if !ok || p.Enums == nil {
		return 0, false
	}
	v, ok := p.Enums[enumName]
	return v, ok
}

func (s *PropertySet) Each(f func(PropValue)) {
	for _, p := range s.props {
		f(p)
	}
}

// GetBlob reads the contents of a property blob, e.g. IN_FORMATS or EDID.
func GetBlob(file *os.File, id BlobID) ([]byte, error) {
	blob := &sysGetBlob{blobID: uint32(id)}
	err := ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeGetBlob),
		uintptr(unsafe.Pointer(blob)))
	if err != nil {
		return nil, err
	}
	if blob.length == 0 {
		return nil, nil
	}
	data := make([]byte, blob.length)
	blob.data = uint64(uintptr(unsafe.Pointer(&data[0])))
	err = ioctl.Do(uintptr(file.Fd()), uintptr(IOCTLModeGetBlob),
		uintptr(unsafe.Pointer(blob)))
	if err != nil {
		return nil, err
	}
	return data, nil
}

// ParseInFormats decodes a plane's IN_FORMATS blob
// (struct drm_format_modifier_blob) into a fourcc→modifiers mapping.
func ParseInFormats(data []byte) (map[uint32][]uint64, error) {
	le := binary.LittleEndian
	if len(data) < 24 {
		return nil, fmt.Errorf("IN_FORMATS blob too short: %d bytes", len(data))
	}
	var (
		countFormats    = le.Uint32(data[8:])
		formatsOffset   = le.Uint32(data[12:])
		countModifiers  = le.Uint32(data[16:])
		modifiersOffset = le.Uint32(data[20:])
	)
	if uint64(formatsOffset)+uint64(countFormats)*4 > uint64(len(data)) ||
		uint64(modifiersOffset)+uint64(countModifiers)*24 > uint64(len(data)) {
		return nil, fmt.Errorf("IN_FORMATS blob truncated: %d bytes", len(data))
	}

	formats := make([]uint32, countFormats)
	for i := range formats {
		formats[i] = le.Uint32(data[formatsOffset+uint32(i)*4:])
	}

	out := make(map[uint32][]uint64, countFormats)
	for i := uint32(0); i < countModifiers; i++ {
		// struct drm_format_modifier: formats bitmask, offset, pad, modifier
		rec := data[modifiersOffset+i*24:]
		mask := le.Uint64(rec)
		offset := le.Uint32(rec[8:])
		modifier := le.Uint64(rec[16:])
		for bit := 0; bit < 64; bit++ {
			if mask&(1<<bit) == 0 {
				continue
			}
			idx := offset + uint32(bit)
			if idx >= countFormats {
				continue
			}
			f := formats[idx]
			out[f] = append(out[f], modifier)
		}
	}
	return out, nil
}
