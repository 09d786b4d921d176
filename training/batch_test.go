package training

import (
	"context"
	"testing"
)

func testEvents(n int) []Feedback {
	events := make([]Feedback, n)
	for i := range events {
		events[i] = Feedback{
			State0:  state(float64(i) / float64(n)),
			State1:  state(float64(i+1) / float64(n)),
			Actions: map[string]int{"move": i % 2},
			Reward:  0.5,
		}
	}
	events[n-1].Terminal = true
	return events
}

func TestBatchTrain(t *testing.T) {
	a := testAgent(t)
	bt := NewBatchTrainer(a, BatchConfig{Epochs: 3})

	metrics, err := bt.Train(context.Background(), testEvents(10))
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if len(metrics) != 3 {
		t.Fatalf("Got %d epoch metrics, expected 3", len(metrics))
	}
	for i, m := range metrics {
		if m.Epoch != i+1 {
			t.Errorf("metrics[%d].Epoch = %d, expected %d", i, m.Epoch, i+1)
		}
		if m.Steps != 10 {
			t.Errorf("metrics[%d].Steps = %d, expected 10", i, m.Steps)
		}
		if m.MeanSquaredDelta < 0 {
			t.Errorf("metrics[%d].MeanSquaredDelta = %v, expected non-negative", i, m.MeanSquaredDelta)
		}
	}
	if a.Steps() != 30 {
		t.Errorf("agent Steps = %d, expected 30", a.Steps())
	}
}

func TestBatchTrainDefaultsToOneEpoch(t *testing.T) {
	a := testAgent(t)
	bt := NewBatchTrainer(a, BatchConfig{})
	metrics, err := bt.Train(context.Background(), testEvents(4))
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if len(metrics) != 1 {
		t.Errorf("Got %d epoch metrics, expected 1", len(metrics))
	}
}

func TestBatchTrainNoEvents(t *testing.T) {
	bt := NewBatchTrainer(testAgent(t), BatchConfig{})
	if _, err := bt.Train(context.Background(), nil); err == nil {
		t.Error("Expected error for an empty feedback sequence")
	}
}

func TestBatchTrainCancellation(t *testing.T) {
	a := testAgent(t)
	bt := NewBatchTrainer(a, BatchConfig{Epochs: 2})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := bt.Train(ctx, testEvents(5)); err != context.Canceled {
		t.Errorf("Train returned %v, expected context.Canceled", err)
	}
	if a.Steps() != 0 {
		t.Errorf("agent Steps = %d, expected 0 after immediate cancellation", a.Steps())
	}
}
