package registry

import (
	"os"
	"testing"

	"github.com/nvandessel/cozmo-brain/internal/invariant"
)

func TestMain(m *testing.M) {
	invariant.SetStrict(true)
	os.Exit(m.Run())
}
