package dataset

import (
	_ "embed"
	"fmt"

	"github.com/lmeterx/st-engine/internal/domain"
)

//go:embed data/text_prompts.jsonl
var builtinText string

//go:embed data/sharegpt_conversations.json
var builtinShareGPT string

//go:embed data/vision_prompts.jsonl
var builtinVision string

// builtinContent returns the embedded dataset for the sentinel test_data
// value "default", selected by chat type.
func builtinContent(chatType int) (string, error) {
	switch chatType {
	case domain.ChatTypeText:
		return builtinText, nil
	case domain.ChatTypeImage:
		return builtinShareGPT, nil
	case domain.ChatTypeVision:
		return builtinVision, nil
	}
	return "", fmt.Errorf("op=dataset.builtinContent: %w: chat_type %d", domain.ErrInvalidArgument, chatType)
}
