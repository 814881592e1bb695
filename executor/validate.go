package executor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/natefinch/atomic"

	"github.com/xraph/batch/job"
	"github.com/xraph/batch/worker"
)

// Compile-time interface check.
var _ worker.Executor = (*Validate)(nil)

// Validation levels, read from the job option "validation_level".
const (
	LevelBasic    = "basic"
	LevelStandard = "standard"
	LevelStrict   = "strict"
)

// STL formats.
const (
	FormatASCII  = "ascii"
	FormatBinary = "binary"
)

const (
	binaryHeader   = 80
	binaryTriangle = 50
)

// Report is the JSON document Validate writes to the job's output.
type Report struct {
	Input      string     `json:"input_file"`
	Format     string     `json:"format"`
	Level      string     `json:"validation_level"`
	Triangles  int        `json:"triangles"`
	Degenerate int        `json:"degenerate_triangles"`
	Min        [3]float64 `json:"bounds_min"`
	Max        [3]float64 `json:"bounds_max"`
	Valid      bool       `json:"valid"`
	Issues     []string   `json:"issues,omitempty"`
	CheckedAt  time.Time  `json:"checked_at"`
}

// ValidateOption configures a Validate executor.
type ValidateOption func(*Validate)

// WithValidateLogger sets the logger.
func WithValidateLogger(l *slog.Logger) ValidateOption {
	return func(v *Validate) { v.logger = l }
}

// Validate checks STL files. A file that cannot be parsed fails with
// STL_LOAD_FAILED; a parsed mesh that breaks the level's rules fails
// with VALIDATION_FAILED after its report is written.
type Validate struct {
	logger *slog.Logger
}

// NewValidate creates a validation executor.
func NewValidate(opts ...ValidateOption) *Validate {
	v := &Validate{logger: slog.Default()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// CanHandle implements worker.Executor.
func (v *Validate) CanHandle(j *job.Job) bool { return j.Type == job.TypeValidate }

// Capabilities implements worker.Executor.
func (v *Validate) Capabilities() worker.Capability { return worker.CapProgress | worker.CapCancel }

// Cleanup implements worker.Executor.
func (v *Validate) Cleanup() error { return nil }

// Execute implements worker.Executor.
func (v *Validate) Execute(ctx context.Context, j *job.Job, progress worker.ProgressFunc) (*job.Result, error) {
	level := LevelStandard
	if s, ok := j.Options["validation_level"].(string); ok && s != "" {
		level = s
	}

	data, err := os.ReadFile(j.Input)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, job.NewError(job.CodeFileNotFound, "input file not found: "+j.Input,
			map[string]any{"input_file": j.Input})
	}
	if err != nil {
		return nil, job.NewError(job.CodeSTLLoadFailed, "failed to load file: "+err.Error(),
			map[string]any{"input_file": j.Input})
	}
	if err := progress(10, "loading mesh"); err != nil {
		return nil, err
	}

	m, err := parseSTL(ctx, data)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, job.NewError(job.CodeSTLLoadFailed, "failed to load file: "+err.Error(),
			map[string]any{"input_file": j.Input})
	}
	if err := progress(50, "validating mesh"); err != nil {
		return nil, err
	}

	rep := m.report(j.Input, level)
	if err := progress(80, "writing report"); err != nil {
		return nil, err
	}
	if err := writeReport(j.Output, rep); err != nil {
		return nil, err
	}
	if err := progress(100, "validation complete"); err != nil {
		return nil, err
	}

	v.logger.Debug("mesh validated",
		slog.String("job_id", j.ID),
		slog.String("format", rep.Format),
		slog.Int("triangles", rep.Triangles),
		slog.Bool("valid", rep.Valid),
	)
	if !rep.Valid {
		return nil, job.NewError(job.CodeValidationFailed, "validation failed: "+strings.Join(rep.Issues, "; "),
			map[string]any{"input_file": j.Input, "report": j.Output, "issues": rep.Issues})
	}
	return job.Succeeded(j.ID, map[string]any{
		"format":           rep.Format,
		"triangles":        rep.Triangles,
		"validation_level": level,
		"report":           j.Output,
	}), nil
}

func writeReport(path string, rep Report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// STL parsing
// ──────────────────────────────────────────────────

type vec [3]float64

type mesh struct {
	format    string
	triangles [][3]vec
}

// parseSTL reads a binary STL when the size matches its triangle count,
// otherwise an ASCII STL.
func parseSTL(ctx context.Context, data []byte) (*mesh, error) {
	if len(data) >= binaryHeader+4 {
		n := binary.LittleEndian.Uint32(data[binaryHeader:])
		if uint64(len(data)) == binaryHeader+4+uint64(n)*binaryTriangle {
			return parseBinary(ctx, data, int(n))
		}
	}
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("solid")) {
		return parseASCII(ctx, bytes.NewReader(data))
	}
	return nil, errors.New("not an STL file")
}

func parseBinary(ctx context.Context, data []byte, n int) (*mesh, error) {
	m := &mesh{format: FormatBinary, triangles: make([][3]vec, 0, n)}
	off := binaryHeader + 4
	for i := range n {
		if i%4096 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		rec := data[off : off+binaryTriangle]
		var tri [3]vec
		for v := range 3 {
			for c := range 3 {
				bits := binary.LittleEndian.Uint32(rec[12+v*12+c*4:])
				tri[v][c] = float64(math.Float32frombits(bits))
			}
		}
		m.triangles = append(m.triangles, tri)
		off += binaryTriangle
	}
	return m, nil
}

func parseASCII(ctx context.Context, r io.Reader) (*mesh, error) {
	m := &mesh{format: FormatASCII}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		facet   []vec
		inFacet bool
		sawEnd  bool
		lineNo  int
	)
	for sc.Scan() {
		lineNo++
		if lineNo%4096 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch strings.ToLower(fields[0]) {
		case "facet":
			if inFacet {
				return nil, fmt.Errorf("line %d: nested facet", lineNo)
			}
			inFacet = true
			facet = facet[:0]
		case "vertex":
			if !inFacet || len(fields) != 4 {
				return nil, fmt.Errorf("line %d: malformed vertex", lineNo)
			}
			var p vec
			for c := range 3 {
				f, err := strconv.ParseFloat(fields[c+1], 64)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", lineNo, err)
				}
				p[c] = f
			}
			facet = append(facet, p)
		case "endfacet":
			if !inFacet || len(facet) != 3 {
				return nil, fmt.Errorf("line %d: facet without three vertices", lineNo)
			}
			m.triangles = append(m.triangles, [3]vec{facet[0], facet[1], facet[2]})
			inFacet = false
		case "endsolid":
			sawEnd = true
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if inFacet {
		return nil, errors.New("unterminated facet")
	}
	if !sawEnd {
		return nil, errors.New("missing endsolid")
	}
	return m, nil
}

func (m *mesh) report(input, level string) Report {
	rep := Report{
		Input:     input,
		Format:    m.format,
		Level:     level,
		Triangles: len(m.triangles),
		CheckedAt: time.Now().UTC(),
	}
	if len(m.triangles) == 0 {
		rep.Issues = append(rep.Issues, "mesh has no triangles")
		return rep
	}

	finite := true
	rep.Min = vec{math.Inf(1), math.Inf(1), math.Inf(1)}
	rep.Max = vec{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	for _, tri := range m.triangles {
		for _, p := range tri {
			for c := range 3 {
				if math.IsNaN(p[c]) || math.IsInf(p[c], 0) {
					finite = false
					continue
				}
				rep.Min[c] = min(rep.Min[c], p[c])
				rep.Max[c] = max(rep.Max[c], p[c])
			}
		}
		if area(tri) == 0 {
			rep.Degenerate++
		}
	}
	if !finite {
		rep.Issues = append(rep.Issues, "mesh has non-finite coordinates")
		rep.Min, rep.Max = vec{}, vec{}
	}

	switch level {
	case LevelBasic:
	case LevelStrict:
		if rep.Degenerate > 0 {
			rep.Issues = append(rep.Issues, fmt.Sprintf("%d degenerate triangles", rep.Degenerate))
		}
	default:
		if rep.Degenerate == rep.Triangles {
			rep.Issues = append(rep.Issues, "every triangle is degenerate")
		}
	}
	rep.Valid = len(rep.Issues) == 0
	return rep
}

// area returns twice the triangle's area.
func area(t [3]vec) float64 {
	a := vec{t[1][0] - t[0][0], t[1][1] - t[0][1], t[1][2] - t[0][2]}
	b := vec{t[2][0] - t[0][0], t[2][1] - t[0][1], t[2][2] - t[0][2]}
	x := a[1]*b[2] - a[2]*b[1]
	y := a[2]*b[0] - a[0]*b[2]
	z := a[0]*b[1] - a[1]*b[0]
	return math.Sqrt(x*x + y*y + z*z)
}
