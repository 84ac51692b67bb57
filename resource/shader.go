package resource

import (
	"fmt"

	"github.com/gogpu/naga"

	"github.com/gogpu/cmdstream/internal/cache"
)

// moduleCacheSize bounds how many compiled modules are kept for reuse.
const moduleCacheSize = 64

// modules maps WGSL source to its compiled SPIR-V.
var modules = cache.New[string, []uint32](moduleCacheSize)

// Stage is a programmable pipeline stage.
type Stage uint8

const (
	StageVertex Stage = iota
	StageFragment
	StageCompute

	// StageCount is the number of stages.
	StageCount = 3
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StageVertex:
		return "vertex"
	case StageFragment:
		return "fragment"
	case StageCompute:
		return "compute"
	default:
		return fmt.Sprintf("Stage(%d)", uint8(s))
	}
}

// Valid reports whether s names a known stage.
func (s Stage) Valid() bool { return s < StageCount }

// ShaderDescriptor describes a shader to create.
type ShaderDescriptor struct {
	// Label is an optional debug name.
	Label string

	// Stage is the pipeline stage the shader is bound to.
	Stage Stage

	// EntryPoint is the entry function name.
	EntryPoint string

	// Source is WGSL source code.
	Source string
}

// Shader is a compiled shader module. Compilation happens on the producer
// side when the shader is created, so records only ever carry its id.
type Shader struct {
	Resource

	stage      Stage
	entryPoint string
	spirv      []uint32
}

// NewShader compiles WGSL source to SPIR-V.
func NewShader(id ID, desc ShaderDescriptor) (*Shader, error) {
	if !desc.Stage.Valid() {
		return nil, fmt.Errorf("shader %q: invalid stage %d", desc.Label, desc.Stage)
	}
	spirv, err := modules.GetOrCompute(desc.Source, func() ([]uint32, error) {
		return compileWGSL(desc.Source)
	})
	if err != nil {
		return nil, fmt.Errorf("shader %q: %w: %w", desc.Label, ErrCompile, err)
	}
	s := &Shader{
		stage:      desc.Stage,
		entryPoint: desc.EntryPoint,
		spirv:      spirv,
	}
	s.init(id, KindShader, desc.Label)
	return s, nil
}

// compileWGSL compiles WGSL source and returns SPIR-V as little-endian words.
func compileWGSL(source string) ([]uint32, error) {
	b, err := naga.Compile(source)
	if err != nil {
		return nil, err
	}
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = uint32(b[i*4]) |
			uint32(b[i*4+1])<<8 |
			uint32(b[i*4+2])<<16 |
			uint32(b[i*4+3])<<24
	}
	return words, nil
}

// Stage returns the stage the shader was compiled for.
func (s *Shader) Stage() Stage { return s.stage }

// EntryPoint returns the entry function name.
func (s *Shader) EntryPoint() string { return s.entryPoint }

// SPIRV returns the compiled module. Shaders built from the same source
// share it; it must not be modified.
func (s *Shader) SPIRV() []uint32 { return s.spirv }

// Destroy implements Object.
func (s *Shader) Destroy() {
	s.spirv = nil
	s.runDestroyCallbacks()
}
