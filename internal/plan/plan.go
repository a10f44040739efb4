package plan

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"

	"github.com/go-scripts/rayback/internal/types"
	"github.com/go-scripts/rayback/internal/writer"
)

// FileName is the reserved name of the plan inside the output directory
const FileName = ".rayback.json"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Plan is the list of resources to download, sorted by source URL.
// Once saved it is never modified; resuming relies on skipping files that
// already exist.
type Plan struct {
	Jobs []types.DownloadJob `json:"list"`
}

// New creates a Plan from jobs
func New(jobs []types.DownloadJob) *Plan {
	if jobs == nil {
		jobs = []types.DownloadJob{}
	}
	return &Plan{Jobs: jobs}
}

// Len returns the number of jobs
func (p *Plan) Len() int {
	return len(p.Jobs)
}

// PathIn returns the plan location inside outDir
func PathIn(outDir string) string {
	return filepath.Join(outDir, FileName)
}

// Save writes p to path as indented JSON. The file is replaced atomically,
// so readers never observe a partially written plan.
func Save(p *Plan, path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	data = append(data, '\n')

	_, err = writer.WriteAtomic(path, func(w io.Writer) (int64, error) {
		n, err := w.Write(data)
		return int64(n), err
	})
	if err != nil {
		return fmt.Errorf("save plan: %w", err)
	}
	return nil
}

// Load reads a plan saved by Save. Every failure wraps types.ErrPlanIO.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrPlanIO, err)
	}

	p, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", types.ErrPlanIO, path, err)
	}
	return p, nil
}

func decode(data []byte) (*Plan, error) {
	var raw struct {
		Jobs *[]types.DownloadJob `json:"list"`
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("unexpected data after plan")
	}
	if raw.Jobs == nil {
		return nil, fmt.Errorf("missing job list")
	}

	seen := make(map[string]struct{}, len(*raw.Jobs))
	for i, job := range *raw.Jobs {
		if job.RelPath == "" || job.URL == "" {
			return nil, fmt.Errorf("job %d is incomplete", i)
		}
		if _, dup := seen[job.RelPath]; dup {
			return nil, fmt.Errorf("duplicate path %q", job.RelPath)
		}
		seen[job.RelPath] = struct{}{}
	}

	return New(*raw.Jobs), nil
}
