package training

import (
	"context"
	"fmt"
	"time"
)

// BatchConfig controls replaying a recorded feedback sequence.
type BatchConfig struct {
	// Epochs is the number of passes over the sequence; defaults to 1.
	Epochs int `json:"epochs,omitempty"`

	// PrintEvery emits a progress line every N events when positive.
	PrintEvery int `json:"printEvery,omitempty"`
}

// BatchMetrics summarizes one epoch of batch training.
type BatchMetrics struct {
	Epoch            int
	Steps            int
	AvgReward        float64
	MeanSquaredDelta float64
	Duration         time.Duration
}

// BatchTrainer replays recorded feedback events through an agent, in order,
// one single-sample update per event.
type BatchTrainer struct {
	agent  *Agent
	config BatchConfig
}

// NewBatchTrainer wraps an agent for batch replay.
func NewBatchTrainer(agent *Agent, config BatchConfig) *BatchTrainer {
	if config.Epochs <= 0 {
		config.Epochs = 1
	}
	return &BatchTrainer{agent: agent, config: config}
}

// Train replays the sequence for the configured number of epochs. The
// context is checked between events so a replay can be cancelled.
func (bt *BatchTrainer) Train(ctx context.Context, events []Feedback) ([]BatchMetrics, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("no feedback events to train on")
	}

	metrics := make([]BatchMetrics, 0, bt.config.Epochs)
	for epoch := 1; epoch <= bt.config.Epochs; epoch++ {
		start := time.Now()
		sumSqDelta := 0.0
		for i, fb := range events {
			select {
			case <-ctx.Done():
				return metrics, ctx.Err()
			default:
			}
			res, err := bt.agent.Train(fb)
			if err != nil {
				return metrics, fmt.Errorf("failed to train on event %d of epoch %d: %v", i, epoch, err)
			}
			sumSqDelta += res.Delta * res.Delta
			if bt.config.PrintEvery > 0 && (i+1)%bt.config.PrintEvery == 0 {
				fmt.Printf("Epoch %d [%d/%d] - Delta: %.6f, Avg Reward: %.6f\n",
					epoch, i+1, len(events), res.Delta, res.AvgReward)
			}
		}
		m := BatchMetrics{
			Epoch:            epoch,
			Steps:            len(events),
			AvgReward:        bt.agent.AvgReward(),
			MeanSquaredDelta: sumSqDelta / float64(len(events)),
			Duration:         time.Since(start),
		}
		metrics = append(metrics, m)
		if bt.config.PrintEvery > 0 {
			fmt.Printf("Epoch %d complete - Mean Squared Delta: %.6f, Avg Reward: %.6f (%.2fs)\n",
				epoch, m.MeanSquaredDelta, m.AvgReward, m.Duration.Seconds())
		}
	}
	return metrics, nil
}
