package assist

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"veostudio/internal/ledger"
	"veostudio/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const suggestionCount = 3

const suggestionSystemPrompt = `You are a creative director writing scripts for music video scenes.
Each scene is 6 seconds long. Write exactly 3 alternative scene descriptions.
Each suggestion must be 1-2 sentences and under 50 words, describing visuals,
action and mood concretely enough to be filmed.
Return ONLY a JSON array of 3 strings.`

// Suggestions is the result of a paid suggestion request.
type Suggestions struct {
	Suggestions  []string
	Cost         decimal.Decimal
	BalanceAfter decimal.Decimal
}

// Position names where a scene sits in the video.
func Position(index int) string {
	switch {
	case index <= 4:
		return "Opening/intro"
	case index <= 16:
		return "Main body"
	default:
		return "Climax/outro"
	}
}

// Suggest asks the LLM for script ideas for a scene. The account is charged
// before the call and refunded if the call fails.
func (s *Service) Suggest(ctx context.Context, accountID, sceneID uuid.UUID, projectContext string) (*Suggestions, error) {
	if s.llm == nil {
		return nil, ErrUnavailable
	}
	sc, err := s.scenes.Scene(ctx, accountID, sceneID)
	if err != nil {
		return nil, err
	}
	p, scenes, err := s.scenes.Project(ctx, accountID, sc.ProjectID)
	if err != nil {
		return nil, err
	}
	prompt := suggestionPrompt(p, scenes, sc, projectContext)

	var out []string
	res, err := s.ledger.Charge(ctx, ledger.Posting{
		AccountID:   accountID,
		Amount:      s.cfg.ScriptCost,
		Kind:        store.EntryKindAIScript,
		Description: fmt.Sprintf("AI script suggestions for scene %d", sc.Index),
		ReferenceID: sceneID.String(),
	}, func(ctx context.Context) error {
		content, err := s.llm.Complete(ctx, suggestionSystemPrompt, prompt)
		if err != nil {
			return fmt.Errorf("suggest: %w", err)
		}
		out = parseSuggestions(content)
		return nil
	})
	if err != nil {
		s.log(ctx).Warn("script suggestions failed", "scene_id", sceneID, "error", err)
		return nil, err
	}

	s.log(ctx).Info("script suggestions generated", "scene_id", sceneID, "count", len(out))
	return &Suggestions{Suggestions: out, Cost: s.cfg.ScriptCost, BalanceAfter: res.BalanceAfter}, nil
}

func suggestionPrompt(p *store.Project, scenes []store.Scene, sc *store.Scene, projectContext string) string {
	var prev, next string
	for _, other := range scenes {
		switch other.Index {
		case sc.Index - 1:
			prev = other.ScriptText
		case sc.Index + 1:
			next = other.ScriptText
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\n", p.Title)
	fmt.Fprintf(&b, "Scene %d of %d (%s)\n", sc.Index, len(scenes), Position(sc.Index))
	if projectContext = strings.TrimSpace(projectContext); projectContext != "" {
		fmt.Fprintf(&b, "Context: %s\n", projectContext)
	}
	if prev != "" {
		fmt.Fprintf(&b, "Previous scene: %s\n", prev)
	}
	if sc.ScriptText != "" {
		fmt.Fprintf(&b, "Current draft: %s\n", sc.ScriptText)
	}
	if next != "" {
		fmt.Fprintf(&b, "Next scene: %s\n", next)
	}
	b.WriteString("Write 3 suggestions for this scene.")
	return b.String()
}

// parseSuggestions reads the first JSON array of strings in content. A reply
// without one is returned whole as a single suggestion.
func parseSuggestions(content string) []string {
	content = strings.TrimSpace(content)
	start, end := strings.Index(content, "["), strings.LastIndex(content, "]")
	if start >= 0 && end > start {
		var parsed []string
		if err := json.Unmarshal([]byte(content[start:end+1]), &parsed); err == nil {
			out := make([]string, 0, suggestionCount)
			for _, s := range parsed {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
				if len(out) == suggestionCount {
					break
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}
	return []string{content}
}
