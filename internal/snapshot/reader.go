package snapshot

import (
	"os"
	"path/filepath"

	"gpudbg/internal/common"
	"gpudbg/internal/gpu"
)

// Reader reads a capture directory
type Reader struct {
	SnapshotPath  string
	Logger        common.Logger
	snapshotFound bool
	Parsed        *ParsedCapture
}

func NewReader(dir string) *Reader {
	return &Reader{SnapshotPath: dir}
}

// SnapshotFound returns true if snapshot.ini was found
func (r *Reader) SnapshotFound() bool {
	return r.snapshotFound
}

// Read parses snapshot.ini and opens every file it names.
func (r *Reader) Read() (*Capture, error) {
	log := common.OrNoOp(r.Logger).Named("snapshot")
	r.snapshotFound = false

	iniPath := filepath.Join(r.SnapshotPath, SnapshotINIFilename)
	file, err := os.Open(iniPath)
	if err != nil {
		return nil, common.NewErrorf(gpu.ErrSevError, gpu.ErrCaptureParse, "open %s: %v", iniPath, err)
	}
	defer file.Close()
	r.snapshotFound = true

	parsed, err := ParseCapture(file)
	if err != nil {
		log.Error(err)
		return nil, err
	}
	r.Parsed = parsed
	log.Logf(common.SeverityDebug, "device %s asic=%s gc=%d.%d hub=%s", parsed.Device.Name, parsed.Device.Asic,
		parsed.Device.GCMajor, parsed.Device.GCMinor, parsed.Device.Hub)

	c, err := build(r.SnapshotPath, parsed)
	if err != nil {
		log.Error(err)
		return nil, err
	}
	log.Logf(common.SeverityInfo, "loaded %s", c)
	return c, nil
}

// Load reads the capture in dir.
func Load(dir string, logger common.Logger) (*Capture, error) {
	r := NewReader(dir)
	r.Logger = logger
	return r.Read()
}
