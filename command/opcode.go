// Package command defines the command records carried by a stream and their
// binary encoding.
//
// Every record starts with a little-endian uint32 opcode, followed by a fixed
// payload and, for a few kinds, a variable tail whose element count is part
// of the fixed payload. Every field is 4 or 8 bytes wide and every record
// size is a multiple of 4, so records stay aligned in the lane.
//
// Records refer to objects by id only. Resources travel as resource.ID;
// fences, result slots and callbacks travel as one-shot ids owned by the
// executor. Nothing in an encoded record is a Go pointer.
//
// # Example
//
//	rec := command.Draw{VertexCount: 3, InstanceCount: 1}
//	buf := make([]byte, rec.Size())
//	command.Encode(buf, rec)
//	got, n, err := command.Decode(buf) // got == rec, n == rec.Size()
package command

import (
	"fmt"

	"github.com/gogpu/cmdstream/internal/ring"
)

// Opcode identifies a record kind.
type Opcode uint32

const (
	// Lane padding
	OpNop  = Opcode(ring.OpNop)  // 4-byte padding
	OpSkip = Opcode(ring.OpSkip) // padding to the physical end of the lane

	// Control
	OpStop     Opcode = 2 // terminates the threaded executor
	OpFence    Opcode = 3 // signals a Finish fence
	OpCallback Opcode = 4 // runs a producer-supplied function

	// State
	OpSetViewport           Opcode = 5
	OpSetScissor            Opcode = 6
	OpSetRenderState        Opcode = 7
	OpSetPrimitiveState     Opcode = 8
	OpSetDepthStencilState  Opcode = 9
	OpSetBlendState         Opcode = 10
	OpSetBlendConstant      Opcode = 11
	OpSetRenderTarget       Opcode = 12
	OpSetDepthStencilTarget Opcode = 13
	OpSetVertexBuffer       Opcode = 14
	OpSetIndexBuffer        Opcode = 15
	OpSetShader             Opcode = 16
	OpSetTexture            Opcode = 17
	OpSetConstants          Opcode = 18
	OpResetState            Opcode = 19

	// Work
	OpClear        Opcode = 20
	OpDraw         Opcode = 21
	OpDrawIndexed  Opcode = 22
	OpDispatch     Opcode = 23
	OpBlit         Opcode = 24
	OpUpdateBuffer Opcode = 25
	OpPresent      Opcode = 26
	OpIssueQuery   Opcode = 27

	// Priority lane
	OpMap   Opcode = 28
	OpUnmap Opcode = 29

	// Lifetime
	OpDestroyObject Opcode = 30

	// OpCount is the number of opcodes.
	OpCount Opcode = 31
)

// opcodeNames maps Opcode values to their string representation.
var opcodeNames = [...]string{
	OpNop:                   "Nop",
	OpSkip:                  "Skip",
	OpStop:                  "Stop",
	OpFence:                 "Fence",
	OpCallback:              "Callback",
	OpSetViewport:           "SetViewport",
	OpSetScissor:            "SetScissor",
	OpSetRenderState:        "SetRenderState",
	OpSetPrimitiveState:     "SetPrimitiveState",
	OpSetDepthStencilState:  "SetDepthStencilState",
	OpSetBlendState:         "SetBlendState",
	OpSetBlendConstant:      "SetBlendConstant",
	OpSetRenderTarget:       "SetRenderTarget",
	OpSetDepthStencilTarget: "SetDepthStencilTarget",
	OpSetVertexBuffer:       "SetVertexBuffer",
	OpSetIndexBuffer:        "SetIndexBuffer",
	OpSetShader:             "SetShader",
	OpSetTexture:            "SetTexture",
	OpSetConstants:          "SetConstants",
	OpResetState:            "ResetState",
	OpClear:                 "Clear",
	OpDraw:                  "Draw",
	OpDrawIndexed:           "DrawIndexed",
	OpDispatch:              "Dispatch",
	OpBlit:                  "Blit",
	OpUpdateBuffer:          "UpdateBuffer",
	OpPresent:               "Present",
	OpIssueQuery:            "IssueQuery",
	OpMap:                   "Map",
	OpUnmap:                 "Unmap",
	OpDestroyObject:         "DestroyObject",
}

// String returns a human-readable name for the opcode.
func (op Opcode) String() string {
	if op < OpCount {
		return opcodeNames[op]
	}
	return fmt.Sprintf("Opcode(%d)", uint32(op))
}

// Priority reports whether records of this kind belong on the priority lane.
func (op Opcode) Priority() bool {
	return op == OpMap || op == OpUnmap
}

// Padding reports whether op is lane padding rather than a command.
func (op Opcode) Padding() bool {
	return op == OpNop || op == OpSkip
}
