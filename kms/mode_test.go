package kms

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mode1080p() ModeInfo {
	m := ModeInfo{
		Clock:    148500,
		Hdisplay: 1920, HsyncStart: 2008, HsyncEnd: 2052, Htotal: 2200,
		Vdisplay: 1080, VsyncStart: 1084, VsyncEnd: 1089, Vtotal: 1125,
		Vrefresh: 60,
		Type:     ModeTypeDriver | ModeTypePreferred,
	}
	copy(m.Name[:], "1920x1080")
	return m
}

func TestModeEqualIgnoresName(t *testing.T) {
	a := mode1080p()
	b := mode1080p()
	copy(b.Name[:], "some-other-name\x00")

	require.True(t, a.Equal(&b))

	b.Clock++
	require.False(t, a.Equal(&b))
}

func TestModeBlank(t *testing.T) {
	var zero ModeInfo
	require.True(t, zero.Blank())

	m := mode1080p()
	require.False(t, m.Blank())
}

func TestModeBytesRoundTrip(t *testing.T) {
	m := mode1080p()
	data := m.Bytes()

	got, err := ModeFromBytes(data)
	require.NoError(t, err)
	require.True(t, m.Equal(&got))
	require.Equal(t, m.Name, got.Name)

	_, err = ModeFromBytes(data[:10])
	require.Error(t, err)
}

func TestModeString(t *testing.T) {
	m := mode1080p()
	require.Equal(t, "1920x1080@60", m.String())

	var anon ModeInfo
	anon.Hdisplay, anon.Vdisplay, anon.Vrefresh = 640, 480, 75
	require.Equal(t, "640x480@75", anon.String())
}
