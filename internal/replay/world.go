package replay

import (
	"sync"

	"github.com/msageha/railscript/internal/model"
)

// World answers registry queries against the frame most recently set and
// records what the controller asks of the train lifecycle and reservations.
type World struct {
	mu       sync.Mutex
	cur      *Frame
	restarts []model.RestartRequest
	released []int
}

func NewWorld() *World {
	return &World{}
}

// Set makes f the frame all queries answer from.
func (w *World) Set(f *Frame) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cur = f
}

func (w *World) frame() *Frame {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cur
}

// FindByComposition returns the first train whose consist carries every wagon.
// With ordered set the wagons must be consecutive and in the listed order,
// read from either end of the train.
func (w *World) FindByComposition(wagonIDs []string, ordered bool) (model.TrainID, bool) {
	f := w.frame()
	if f == nil || len(wagonIDs) == 0 {
		return "", false
	}
	for _, t := range f.Trains {
		if ordered {
			if containsRun(t.Consist, wagonIDs) || containsRun(reversed(t.Consist), wagonIDs) {
				return t.ID, true
			}
			continue
		}
		if containsAll(t.Consist, wagonIDs) {
			return t.ID, true
		}
	}
	return "", false
}

func (w *World) Consist(id model.TrainID) ([]string, bool) {
	f := w.frame()
	if f == nil {
		return nil, false
	}
	t, ok := f.train(id)
	if !ok || t.Consist == nil {
		return nil, false
	}
	return t.Consist, true
}

func (w *World) TrainPosition(id model.TrainID) (model.Location, bool) {
	f := w.frame()
	if f == nil {
		return model.Location{}, false
	}
	t, ok := f.train(id)
	return t.Position, ok
}

func (w *World) TrainSpeedMps(id model.TrainID) (float64, bool) {
	f := w.frame()
	if f == nil {
		return 0, false
	}
	t, ok := f.train(id)
	return t.Speed, ok
}

// RestartWaitingTrain records the request; replays have no AI trains to start.
func (w *World) RestartWaitingTrain(req model.RestartRequest) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.restarts = append(w.restarts, req)
}

func (w *World) ReleasePlatform(platformStartID int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.released = append(w.released, platformStartID)
}

func (w *World) Restarts() []model.RestartRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]model.RestartRequest(nil), w.restarts...)
}

func (w *World) ReleasedPlatforms() []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]int(nil), w.released...)
}

func containsRun(consist, run []string) bool {
	if len(run) > len(consist) {
		return false
	}
outer:
	for i := 0; i+len(run) <= len(consist); i++ {
		for j := range run {
			if consist[i+j] != run[j] {
				continue outer
			}
		}
		return true
	}
	return false
}

func containsAll(consist, wagons []string) bool {
	set := make(map[string]struct{}, len(consist))
	for _, id := range consist {
		set[id] = struct{}{}
	}
	for _, id := range wagons {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}

func reversed(s []string) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[len(s)-1-i] = v
	}
	return out
}
