package scanout_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	scanout "github.com/NeowayLabs/scanout"
)

// These tests need a real card node; CI boxes without /dev/dri skip them.
func openTestCard(t *testing.T) func() {
	t.Helper()
	file, err := scanout.OpenCard(0)
	if err != nil {
		t.Skipf("no DRM card available: %v", err)
	}
	return func() { file.Close() }
}

func TestAvailable(t *testing.T) {
	closeCard := openTestCard(t)
	defer closeCard()

	v, err := scanout.Available()
	require.NoError(t, err)
	require.NotEmpty(t, v.Name)
	require.NotZero(t, v.Major)
}

func TestGetCap(t *testing.T) {
	closeCard := openTestCard(t)
	defer closeCard()

	file, err := scanout.OpenCard(0)
	require.NoError(t, err)
	defer file.Close()

	// Every modern driver answers the dumb buffer query, one way or the
	// other.
	_, err = scanout.GetCap(file, scanout.CapDumbBuffer)
	require.NoError(t, err)
}

func TestSetClientCap(t *testing.T) {
	closeCard := openTestCard(t)
	defer closeCard()

	file, err := scanout.OpenCard(0)
	require.NoError(t, err)
	defer file.Close()

	require.NoError(t, scanout.SetClientCap(file, scanout.ClientCapUniversalPlanes, 1))
	require.NoError(t, scanout.SetClientCap(file, scanout.ClientCapAtomic, 1))
}
