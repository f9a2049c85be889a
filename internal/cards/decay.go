package cards

import (
	"context"
	"math"
	"time"

	"gorm.io/gorm"
)

// DecayOptions tunes the exponential forgetting pass.
type DecayOptions struct {
	LimitCards         int
	HalfLifeDays       float64
	SignalWindowDays   int
	MinIntervalMinutes int
}

func DefaultDecayOptions() DecayOptions {
	return DecayOptions{
		LimitCards:         50,
		HalfLifeDays:       45.0,
		SignalWindowDays:   180,
		MinIntervalMinutes: 60,
	}
}

type DecayResult struct {
	Job            string   `json:"job"`
	Updated        int      `json:"updated"`
	TouchedCardIDs []string `json:"touched_card_ids"`
	LimitCards     int      `json:"limit_cards"`
	HalfLifeDays   float64  `json:"half_life_days"`
}

func roundScore(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// decayScores applies exponential forgetting plus bounded signal nudges.
// Confidence decays on a slower clock than strength.
func decayScores(strength, confidence, dtDays, halfLifeDays float64, totals map[string]float64) (float64, float64) {
	reward := totals["reward"]
	punish := totals["punish"] + totals["correction"]
	use := totals["use"]

	factor := math.Pow(0.5, dtDays/halfLifeDays)
	delta := minF(0.20, 0.02*use) + minF(0.20, 0.05*reward) - minF(0.30, 0.07*punish)
	newStrength := roundScore(clamp01(strength*factor + delta))

	confHalfLife := maxF(180.0, halfLifeDays*4.0)
	confFactor := math.Pow(0.5, dtDays/confHalfLife)
	newConfidence := roundScore(clamp01(
		confidence*confFactor + minF(0.10, 0.01*reward) - minF(0.15, 0.02*punish)))

	return newStrength, newConfidence
}

// Decay ages active non-system cards incrementally. The reference point is
// payload.last_decay_at, not the head's updated_at, so decay reruns are
// no-ops and content writes are never mistaken for decay checkpoints.
// Signals are applied exactly once by summing only those newer than the
// reference, bounded by the signal window.
func (s *service) Decay(ctx context.Context, vantageID string, opts DecayOptions) (*DecayResult, error) {
	if vantageID == "" {
		vantageID = "default"
	}
	if opts.LimitCards <= 0 {
		opts.LimitCards = 50
	}
	if opts.HalfLifeDays <= 0 {
		opts.HalfLifeDays = 45.0
	}
	if opts.SignalWindowDays <= 0 {
		opts.SignalWindowDays = 180
	}
	if opts.MinIntervalMinutes < 0 {
		opts.MinIntervalMinutes = 0
	}
	minIntervalDays := float64(opts.MinIntervalMinutes) / 1440.0

	out := &DecayResult{
		Job:          "card_decay_v1",
		LimitCards:   opts.LimitCards,
		HalfLifeDays: opts.HalfLifeDays,
	}

	heads, err := s.cards.ListForDecay(ctx, nil, vantageID, opts.LimitCards)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	windowFloor := now.AddDate(0, 0, -opts.SignalWindowDays)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, head := range heads {
			payload := decodeJSONMap(head.Payload)

			lastRef := head.UpdatedAt
			if raw, ok := payload["last_decay_at"].(string); ok && raw != "" {
				if ts, err := time.Parse(time.RFC3339, raw); err == nil {
					lastRef = ts
				}
			}

			dtDays := now.Sub(lastRef).Hours() / 24.0
			if dtDays < 0 {
				dtDays = 0
			}

			since := lastRef
			if windowFloor.After(since) {
				since = windowFloor
			}
			totals, err := s.cards.SignalTotalsSince(ctx, tx, head.CardID, since)
			if err != nil {
				return err
			}
			reward := totals["reward"]
			punish := totals["punish"] + totals["correction"]
			use := totals["use"]
			anySignals := reward+punish+use > 0

			// Nothing new and too soon: skip to avoid minute-loop churn.
			if !anySignals && dtDays < minIntervalDays {
				continue
			}

			newStrength, newConfidence := decayScores(head.Strength, head.Confidence, dtDays, opts.HalfLifeDays, totals)

			oldStrength := roundScore(head.Strength)
			oldConfidence := roundScore(head.Confidence)

			if newStrength != oldStrength || newConfidence != oldConfidence || anySignals || dtDays >= minIntervalDays {
				payload["last_decay_at"] = now.Format(time.RFC3339)
				if err := s.cards.UpdateScores(ctx, tx, head.CardID, newStrength, newConfidence, encodeJSONMap(payload)); err != nil {
					return err
				}
				out.Updated++
				out.TouchedCardIDs = append(out.TouchedCardIDs, head.CardID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out.TouchedCardIDs) > 50 {
		out.TouchedCardIDs = out.TouchedCardIDs[:50]
	}
	return out, nil
}
