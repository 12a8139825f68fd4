package assist

import (
	"context"
	"fmt"
	"strings"

	"veostudio/internal/generation"
	"veostudio/internal/ledger"
	"veostudio/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	thumbnailWidth          = 1024
	thumbnailHeight         = 576
	thumbnailNegativePrompt = "blurry, low quality, amateur, distorted, deformed"
)

// Thumbnail is the result of a paid thumbnail request.
type Thumbnail struct {
	URL          string
	Cost         decimal.Decimal
	BalanceAfter decimal.Decimal
}

// Thumbnail renders a still for a scene from its script and stores it on
// the scene. The scene must have a script.
func (s *Service) Thumbnail(ctx context.Context, accountID, sceneID uuid.UUID) (*Thumbnail, error) {
	if s.images == nil {
		return nil, ErrUnavailable
	}
	sc, err := s.scenes.Scene(ctx, accountID, sceneID)
	if err != nil {
		return nil, err
	}
	script := strings.TrimSpace(sc.ScriptText)
	if script == "" {
		return nil, generation.ErrMissingScript
	}

	var url string
	res, err := s.ledger.Charge(ctx, ledger.Posting{
		AccountID:   accountID,
		Amount:      s.cfg.ThumbnailCost,
		Kind:        store.EntryKindThumbnail,
		Description: fmt.Sprintf("Thumbnail for scene %d", sc.Index),
		ReferenceID: sceneID.String(),
	}, func(ctx context.Context) error {
		u, err := s.images.Generate(ctx, ImageRequest{
			Prompt:         thumbnailPrompt(script),
			NegativePrompt: thumbnailNegativePrompt,
			Width:          thumbnailWidth,
			Height:         thumbnailHeight,
		})
		if err != nil {
			return fmt.Errorf("thumbnail: %w", err)
		}
		url = u
		return nil
	})
	if err != nil {
		s.log(ctx).Warn("thumbnail generation failed", "scene_id", sceneID, "error", err)
		return nil, err
	}

	// The charge stands once the image exists, even if storing the URL fails.
	if err := s.scenes.SetThumbnail(ctx, sceneID, url); err != nil {
		return nil, err
	}
	s.log(ctx).Info("thumbnail generated", "scene_id", sceneID)
	return &Thumbnail{URL: url, Cost: s.cfg.ThumbnailCost, BalanceAfter: res.BalanceAfter}, nil
}

func thumbnailPrompt(script string) string {
	return fmt.Sprintf("Cinematic still from a music video: %s. Professional lighting, high-end production quality, dramatic composition. 16:9 aspect ratio.", script)
}
