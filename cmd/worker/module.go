package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"trainrun-backend/internal/trainer"
)

// linearModule fits y = w*x + b by SGD. It is the built-in module used for
// local runs and smoke tests of the training pipeline.
type linearModule struct {
	w, b float64
	lr   float64
}

func newLinearModule(config map[string]any) (trainer.Module, error) {
	lr := 0.01
	if v, ok := config["learning_rate"]; ok {
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("learning_rate must be a number, got %T", v)
		}
		lr = f
	}
	return &linearModule{lr: lr}, nil
}

func (m *linearModule) Setup(device trainer.Device) error {
	slog.Info("linear module ready", "device", device.String())
	return nil
}

func (m *linearModule) TrainStep(batch any) (map[string]any, error) {
	samples, ok := batch.([][2]float64)
	if !ok {
		return nil, fmt.Errorf("expected [][2]float64 batch, got %T", batch)
	}

	var loss, gradW, gradB float64
	for _, s := range samples {
		x, y := s[0], s[1]
		pred := m.w*x + m.b
		diff := pred - y
		loss += diff * diff
		gradW += 2 * diff * x
		gradB += 2 * diff
	}
	n := float64(len(samples))
	m.w -= m.lr * gradW / n
	m.b -= m.lr * gradB / n

	return map[string]any{"train_loss": loss / n}, nil
}

func (m *linearModule) ValidationStep(batch any) (map[string]any, error) {
	samples, ok := batch.([][2]float64)
	if !ok {
		return nil, fmt.Errorf("expected [][2]float64 batch, got %T", batch)
	}

	var loss float64
	for _, s := range samples {
		diff := m.w*s[0] + m.b - s[1]
		loss += diff * diff
	}
	return map[string]any{"val_loss": loss / float64(len(samples))}, nil
}

func (m *linearModule) Save(path string) error {
	data, err := json.Marshal(map[string]float64{"w": m.w, "b": m.b})
	if err != nil {
		return fmt.Errorf("could not serialize model: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("could not write model to %s: %w", path, err)
	}
	return nil
}
