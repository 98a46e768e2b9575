// peer.go implements cross-entity propagation: recent base signals of
// propagatable types (dilution, toxic financing, distress) spread to the
// source instrument's competitors as PEER_IMPACT signals with decayed
// confidence.
//
// A duplicate guard keeps propagation idempotent: when the target already
// carries a PEER_IMPACT whose evidence references the same source signal,
// nothing new is emitted.
package signals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"market-intel/internal/storage"
	"market-intel/pkg/types"
)

// propagationDecay scales the source confidence before the relationship
// confidence is applied.
const propagationDecay = 0.8

// propagatableTypes are the base signal families that spread to peers.
var propagatableTypes = []types.SignalType{
	types.SignalDilution,
	types.SignalToxicFinancing,
	types.SignalGoingConcern,
	types.SignalLiquidity,
}

// PropagatedEvidence records the provenance of a PEER_IMPACT signal. The
// SourceSignalID is the duplicate-guard key.
type PropagatedEvidence struct {
	Kind                   string  `json:"kind"`
	SourceSignalID         string  `json:"sourceSignalId"`
	SourceInstrumentID     string  `json:"sourceInstrumentId"`
	SourceSignalType       string  `json:"sourceSignalType"`
	RelationshipConfidence float64 `json:"relationshipConfidence"`
}

// CompetitorReader resolves an instrument's competitors.
type CompetitorReader interface {
	Competitors(ctx context.Context, id string) ([]types.CompetitorLink, error)
}

// SignalReader is the signal repository slice propagation reads.
type SignalReader interface {
	RecentByTypes(ctx context.Context, signalTypes []types.SignalType, since time.Time) ([]types.Signal, error)
	Get(ctx context.Context, instrumentID string, signalType types.SignalType) (*types.Signal, error)
}

// PeerImpact is the propagation generator.
type PeerImpact struct {
	competitors CompetitorReader
	signals     SignalReader
}

// NewPeerImpact creates the generator.
func NewPeerImpact(competitors CompetitorReader, signals SignalReader) *PeerImpact {
	return &PeerImpact{competitors: competitors, signals: signals}
}

func (g *PeerImpact) Name() string                 { return "peer_impact" }
func (g *PeerImpact) SignalType() types.SignalType { return types.SignalPeerImpact }

func (g *PeerImpact) Generate(ctx context.Context, gc Context) ([]GeneratedSignal, error) {
	bases, err := g.signals.RecentByTypes(ctx, propagatableTypes, gc.Since())
	if err != nil {
		return nil, fmt.Errorf("load base signals: %w", err)
	}

	var out []GeneratedSignal
	for i := range bases {
		base := &bases[i]

		links, err := g.competitors.Competitors(ctx, base.InstrumentID)
		if err != nil {
			return nil, fmt.Errorf("competitors of %s: %w", base.InstrumentID, err)
		}

		for _, link := range links {
			suppressed, err := g.alreadyPropagated(ctx, link.CompetitorID, base.ID)
			if err != nil {
				return nil, err
			}
			if suppressed {
				continue
			}

			confidence := clamp(propagationDecay*link.Confidence*base.Confidence, 0, 1)
			score := clamp(base.Score*propagationDecay, 0, 100)

			evidence, err := json.Marshal([]PropagatedEvidence{{
				Kind:                   "PropagatedSignal",
				SourceSignalID:         base.ID,
				SourceInstrumentID:     base.InstrumentID,
				SourceSignalType:       string(base.Type),
				RelationshipConfidence: link.Confidence,
			}})
			if err != nil {
				return nil, err
			}

			out = append(out, GeneratedSignal{
				InstrumentID: link.CompetitorID,
				Type:         types.SignalPeerImpact,
				Severity:     types.SeverityFor(score, confidence),
				Score:        score,
				Confidence:   confidence,
				Reason: fmt.Sprintf("peer impact: competitor carries %s (confidence %.2f)",
					base.Type, base.Confidence),
				Evidence: evidence,
			})
		}
	}
	return out, nil
}

// alreadyPropagated checks the duplicate guard: an existing PEER_IMPACT on
// the target whose evidence references the same source signal suppresses a
// new emission.
func (g *PeerImpact) alreadyPropagated(ctx context.Context, targetID, sourceSignalID string) (bool, error) {
	existing, err := g.signals.Get(ctx, targetID, types.SignalPeerImpact)
	if errors.Is(err, storage.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load existing peer impact: %w", err)
	}

	var evidence []PropagatedEvidence
	if err := json.Unmarshal(existing.Evidence, &evidence); err != nil {
		return false, nil // unreadable evidence never suppresses
	}
	for _, ev := range evidence {
		if ev.SourceSignalID == sourceSignalID {
			return true, nil
		}
	}
	return false, nil
}
