package fixtures

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/otiai10/copy"
	"github.com/stretchr/testify/require"
)

// SetupFixture copies <pkgPath>/fixtures into a fresh temporary directory
// and returns its path.
func SetupFixture(t *testing.T, pkgPath string) string {
	t.Helper()
	srcPath := filepath.Join(pkgPath, "fixtures")
	dstPath := filepath.Join(t.TempDir(), "enginebridge-test-"+uuid.New().String())
	err := copy.Copy(srcPath, dstPath)
	require.NoError(t, err)
	return dstPath
}
