package trainer

import "fmt"

// Device identifies the accelerator a worker trains on.
type Device struct {
	Kind  string // "cuda" or "cpu"
	Index int
}

func CPU() Device { return Device{Kind: "cpu"} }

func CUDA(index int) Device { return Device{Kind: "cuda", Index: index} }

func (d Device) String() string {
	if d.Kind == "cpu" {
		return "cpu"
	}
	return fmt.Sprintf("%s:%d", d.Kind, d.Index)
}

// Module is the training library's model abstraction, treated as a black
// box with a fixed contract: step functions returning logged metrics and a
// Save that writes the library-native checkpoint (file or directory).
type Module interface {
	Setup(device Device) error

	TrainStep(batch any) (map[string]any, error)

	ValidationStep(batch any) (map[string]any, error)

	Save(path string) error
}

// ModuleFactory constructs a fresh Module on each worker. The trainer takes
// a constructor rather than an instance so every rank builds its own copy.
type ModuleFactory func(config map[string]any) (Module, error)
