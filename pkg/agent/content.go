package agent

import "encoding/json"

// ContentBlockType identifies the kind of a content block.
type ContentBlockType string

const (
	ContentBlockTypeText       ContentBlockType = "text"
	ContentBlockTypeThinking   ContentBlockType = "thinking"
	ContentBlockTypeToolUse    ContentBlockType = "tool_use"
	ContentBlockTypeToolResult ContentBlockType = "tool_result"
)

// ContentBlock is the interface for message content blocks.
type ContentBlock interface {
	BlockType() ContentBlockType
}

// TextBlock carries model output text.
type TextBlock struct {
	Type ContentBlockType `json:"type"`
	Text string           `json:"text"`
}

func (b TextBlock) BlockType() ContentBlockType { return ContentBlockTypeText }

// ThinkingBlock carries model reasoning text.
type ThinkingBlock struct {
	Type     ContentBlockType `json:"type"`
	Thinking string           `json:"thinking"`
}

func (b ThinkingBlock) BlockType() ContentBlockType { return ContentBlockTypeThinking }

// ToolUseBlock is a tool invocation with its structured input.
type ToolUseBlock struct {
	Type  ContentBlockType `json:"type"`
	ID    string           `json:"id"`
	Name  string           `json:"name"`
	Input json.RawMessage  `json:"input,omitempty"`
}

func (b ToolUseBlock) BlockType() ContentBlockType { return ContentBlockTypeToolUse }

// ToolResultBlock carries the output of a prior tool invocation, referencing
// it by tool use id.
type ToolResultBlock struct {
	Type      ContentBlockType `json:"type"`
	ToolUseID string           `json:"tool_use_id"`
	Content   json.RawMessage  `json:"content,omitempty"`
	IsError   *bool            `json:"is_error,omitempty"`
}

func (b ToolResultBlock) BlockType() ContentBlockType { return ContentBlockTypeToolResult }

// ContentBlocks is a list of content blocks. Unmarshaling skips block types
// this engine does not recognize instead of failing the whole message.
type ContentBlocks []ContentBlock

func (cb *ContentBlocks) UnmarshalJSON(data []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}

	blocks := make(ContentBlocks, 0, len(items))
	for _, item := range items {
		block, err := UnmarshalContentBlock(item)
		if err != nil {
			return err
		}
		if block != nil {
			blocks = append(blocks, block)
		}
	}
	*cb = blocks
	return nil
}

// UnmarshalContentBlock parses one content block. Unknown block types return
// (nil, nil) so a future backend does not break existing consumers.
func UnmarshalContentBlock(data json.RawMessage) (ContentBlock, error) {
	var head struct {
		Type ContentBlockType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	switch head.Type {
	case ContentBlockTypeText:
		var b TextBlock
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return b, nil
	case ContentBlockTypeThinking:
		var b ThinkingBlock
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return b, nil
	case ContentBlockTypeToolUse:
		var b ToolUseBlock
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return b, nil
	case ContentBlockTypeToolResult:
		var b ToolResultBlock
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, nil
	}
}
