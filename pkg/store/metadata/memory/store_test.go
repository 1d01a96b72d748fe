package memory

import (
	"testing"

	"github.com/TritonDataCenter/manta-nfs/pkg/store/metadata"
	metadatatesting "github.com/TritonDataCenter/manta-nfs/pkg/store/metadata/testing"
)

// TestMemoryStore runs the metadata.Store suite against the B-tree store.
func TestMemoryStore(t *testing.T) {
	suite := &metadatatesting.StoreTestSuite{
		NewStore: func(t *testing.T) metadata.Store {
			return New()
		},
	}

	suite.Run(t)
}
