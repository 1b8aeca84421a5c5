package stream

import (
	"encoding/json"
	"strings"

	"github.com/tandem-dev/tandem/pkg/agent"
)

// Assembler turns content_block_start/delta/stop signals into finalized
// Blocks, buffering partial state per block index. At most one block per
// index is open at a time; a stop finalizes it exactly once and frees the
// index. Signals for an index with no open block are ignored.
type Assembler struct {
	open       map[int]*openBlock
	correlator *Correlator
}

type openBlock struct {
	kind      BlockKind
	text      strings.Builder
	inputJSON strings.Builder
	toolUseID string
	toolName  string
	// startInput is the input carried by the opening signal, used when no
	// input deltas follow.
	startInput json.RawMessage
}

// NewAssembler creates an Assembler that registers tool invocations with the
// given correlator as soon as their opening signal arrives.
func NewAssembler(correlator *Correlator) *Assembler {
	return &Assembler{
		open:       make(map[int]*openBlock),
		correlator: correlator,
	}
}

// HandleStreamEvent consumes one stream event message and returns any block
// it finalized. Malformed or out-of-order signals return nothing.
func (a *Assembler) HandleStreamEvent(msg agent.StreamEventMessage) []Block {
	payload, err := agent.ParseStreamPayload(msg.Event)
	if err != nil || payload == nil {
		return nil
	}

	switch p := payload.(type) {
	case agent.ContentBlockStart:
		a.handleStart(p)
	case agent.ContentBlockDelta:
		a.handleDelta(p)
	case agent.ContentBlockStop:
		if block, ok := a.finalize(p.Index); ok {
			return []Block{block}
		}
	}
	return nil
}

func (a *Assembler) handleStart(p agent.ContentBlockStart) {
	declared, err := p.ParsedBlock()
	if err != nil || declared == nil {
		return
	}

	ob := &openBlock{}
	switch b := declared.(type) {
	case agent.TextBlock:
		ob.kind = BlockKindText
		ob.text.WriteString(b.Text)
	case agent.ThinkingBlock:
		ob.kind = BlockKindThinking
		ob.text.WriteString(b.Thinking)
	case agent.ToolUseBlock:
		ob.kind = BlockKindToolUse
		ob.toolUseID = b.ID
		ob.toolName = b.Name
		ob.startInput = b.Input
		// Register immediately so a result arriving before this block is
		// finalized still gets a name.
		a.correlator.Register(b.ID, b.Name)
	default:
		return
	}
	a.open[p.Index] = ob
}

func (a *Assembler) handleDelta(p agent.ContentBlockDelta) {
	ob, ok := a.open[p.Index]
	if !ok {
		return
	}

	delta, err := agent.ParseDelta(p.Delta)
	if err != nil || delta == nil {
		return
	}

	switch d := delta.(type) {
	case agent.TextDelta:
		ob.text.WriteString(d.Text)
	case agent.ThinkingDelta:
		ob.text.WriteString(d.Thinking)
	case agent.InputJSONDelta:
		ob.inputJSON.WriteString(d.PartialJSON)
	}
}

func (a *Assembler) finalize(index int) (Block, bool) {
	ob, ok := a.open[index]
	if !ok {
		return Block{}, false
	}
	delete(a.open, index)

	block := Block{
		Kind:  ob.kind,
		Index: index,
	}
	switch ob.kind {
	case BlockKindText, BlockKindThinking:
		block.Text = ob.text.String()
	case BlockKindToolUse:
		block.ToolUseID = ob.toolUseID
		block.ToolName = ob.toolName
		if ob.inputJSON.Len() > 0 {
			block.Input = json.RawMessage(ob.inputJSON.String())
		} else {
			block.Input = ob.startInput
		}
	}
	return block, true
}

// BlocksFromMessage converts the fully-formed content of an assistant or user
// message to the same Block representation the streaming path produces. Tool
// invocations are registered with the correlator; tool results are labeled
// through it.
func (a *Assembler) BlocksFromMessage(body agent.MessageBody) []Block {
	raw, ok := body.Content.AsBlocks()
	if !ok {
		if text, ok := body.Content.AsText(); ok && text != "" {
			return []Block{{Kind: BlockKindText, Text: text}}
		}
		return nil
	}

	blocks := make([]Block, 0, len(raw))
	for i, cb := range raw {
		switch b := cb.(type) {
		case agent.TextBlock:
			blocks = append(blocks, Block{Kind: BlockKindText, Index: i, Text: b.Text})
		case agent.ThinkingBlock:
			blocks = append(blocks, Block{Kind: BlockKindThinking, Index: i, Text: b.Thinking})
		case agent.ToolUseBlock:
			a.correlator.Register(b.ID, b.Name)
			blocks = append(blocks, Block{
				Kind:      BlockKindToolUse,
				Index:     i,
				ToolUseID: b.ID,
				ToolName:  b.Name,
				Input:     b.Input,
			})
		case agent.ToolResultBlock:
			isError := b.IsError != nil && *b.IsError
			blocks = append(blocks, Block{
				Kind:      BlockKindToolResult,
				Index:     i,
				ToolUseID: b.ToolUseID,
				ToolName:  a.correlator.Lookup(b.ToolUseID),
				Content:   b.Content,
				IsError:   isError,
			})
		}
	}
	return blocks
}

// OpenCount reports how many block indexes are currently receiving deltas.
func (a *Assembler) OpenCount() int {
	return len(a.open)
}
