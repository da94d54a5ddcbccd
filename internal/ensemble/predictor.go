package ensemble

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Brownie44l1/lungscan-api/internal/imaging"
	"github.com/Brownie44l1/lungscan-api/internal/metrics"
	"github.com/Brownie44l1/lungscan-api/internal/model"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrInference  = errors.New("inference failed")
	ErrOutputSize = errors.New("unexpected output size")
)

// Predictor runs a scan through validation, preprocessing and every model
// in the registry. It holds no mutable state and is safe for concurrent use,
// provided the registry's inferers are.
type Predictor struct {
	registry     *model.Registry
	validator    imaging.Validator
	preprocessor *imaging.Preprocessor
}

func NewPredictor(registry *model.Registry, validator imaging.Validator, preprocessor *imaging.Preprocessor) *Predictor {
	return &Predictor{
		registry:     registry,
		validator:    validator,
		preprocessor: preprocessor,
	}
}

// Predict classifies the image at path. A scan that fails validation,
// including one that cannot be decoded, yields a Result carrying
// NonCTMessage and a nil error; no model is run. A file that cannot be read,
// or any preprocessing or model failure, aborts the whole prediction.
func (p *Predictor) Predict(ctx context.Context, path string) (*Result, error) {
	img, ok, err := p.validator.LoadScan(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		metrics.Incr(metrics.NonCTRejectedCount, nil)
		return &Result{Error: NonCTMessage}, nil
	}

	normalized, err := p.preprocessor.Normalize(img)
	if err != nil {
		return nil, err
	}

	entries := p.registry.Entries()
	labels := p.registry.Labels()
	results := make([]ModelResult, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	for i, entry := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := runModel(entry, normalized, labels)
			if err != nil {
				return fmt.Errorf("model %s: %w", entry.Name, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	cases := make([]string, len(results))
	for i, r := range results {
		cases[i] = r.Case
	}
	final := MajorityVote(cases)
	metrics.Incr(metrics.PredictionCount, metrics.BuildTags(metrics.TagCase, final))
	log.Debug().Strs("votes", cases).Str("final_case", final).Msg("ensemble prediction")

	return &Result{Models: results, FinalCase: final}, nil
}

func runModel(entry model.Entry, normalized imaging.Tensor, labels []string) (ModelResult, error) {
	batch, err := imaging.AdaptForModel(normalized, entry.Size)
	if err != nil {
		return ModelResult{}, err
	}

	start := time.Now()
	probs, err := entry.Model.Infer(batch)
	status := "ok"
	if err != nil {
		status = "error"
	}
	tags := metrics.BuildTags(metrics.TagModel, entry.Name, metrics.TagStatus, status)
	metrics.Timing(metrics.InferenceLatency, time.Since(start), tags)
	metrics.Incr(metrics.InferenceCount, tags)
	if err != nil {
		return ModelResult{}, fmt.Errorf("%w: %w", ErrInference, err)
	}

	if len(probs) != len(labels) {
		return ModelResult{}, fmt.Errorf("%w: got %d probabilities for %d classes", ErrOutputSize, len(probs), len(labels))
	}
	probs = sanitizeProbs(probs)
	idx := argmax(probs)

	return ModelResult{
		Model:      entry.Name,
		Case:       labels[idx],
		Confidence: confidence(probs[idx]),
	}, nil
}
