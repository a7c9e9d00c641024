package readahead

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/preheatd/preheatd/pkg/model"
)

func region(uri string, offset, length uint64) model.MapRegion {
	return model.MapRegion{URI: uri, Offset: offset, Length: length}
}

func TestOrderStrategies(t *testing.T) {
	regions := []model.MapRegion{
		region("/b", 100, 10),
		region("/a", 200, 10),
		region("/a", 0, 10),
		region("/c", 0, 10),
	}
	inodes := map[string]uint64{"/a": 30, "/b": 10, "/c": 20}

	tests := []struct {
		name     string
		strategy SortStrategy
		want     []model.MapRegion
	}{
		{
			name:     "none keeps plan order",
			strategy: SortNone,
			want:     regions,
		},
		{
			name:     "path groups by uri then offset",
			strategy: SortPath,
			want: []model.MapRegion{
				region("/a", 0, 10),
				region("/a", 200, 10),
				region("/b", 100, 10),
				region("/c", 0, 10),
			},
		},
		{
			name:     "inode follows on-disk numbering",
			strategy: SortInode,
			want: []model.MapRegion{
				region("/b", 100, 10),
				region("/c", 0, 10),
				region("/a", 0, 10),
				region("/a", 200, 10),
			},
		},
		{
			name:     "block is an alias for inode",
			strategy: SortBlock,
			want: []model.MapRegion{
				region("/b", 100, 10),
				region("/c", 0, 10),
				region("/a", 0, 10),
				region("/a", 200, 10),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i := New(Config{Strategy: tt.strategy})
			i.fileID = func(path string) (uint64, uint64) { return 1, inodes[path] }
			assert.Equal(t, tt.want, i.order(regions))
		})
	}
}

func TestOrderDoesNotMutateInput(t *testing.T) {
	regions := []model.MapRegion{region("/b", 0, 1), region("/a", 0, 1)}
	i := New(Config{Strategy: SortPath})
	i.order(regions)
	assert.Equal(t, "/b", regions[0].URI)
}

func TestPrefetchIssuesRegions(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "payload")
	require.NoError(t, os.WriteFile(file, make([]byte, 64<<10), 0o644))

	i := New(Config{})
	stats := i.Prefetch(context.Background(), []model.MapRegion{
		region(file, 0, 4096),
		region(file, 4096, 4096),
		region(filepath.Join(dir, "missing"), 0, 4096),
	})

	assert.Equal(t, 3, stats.Requested)
	assert.Equal(t, 2, stats.Issued)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, uint64(8192), stats.Bytes)
}

func TestPrefetchHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	i := New(Config{})
	stats := i.Prefetch(ctx, []model.MapRegion{region("/does/not/matter", 0, 1)})
	assert.Zero(t, stats.Issued)
}

func TestValidStrategy(t *testing.T) {
	assert.True(t, ValidStrategy(SortNone))
	assert.True(t, ValidStrategy(SortBlock))
	assert.False(t, ValidStrategy("alphabetical"))
}
