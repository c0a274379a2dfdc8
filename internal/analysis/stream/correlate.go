package stream

import (
	"github.com/jvmscope/jvmscope/internal/analysis/window"
	"github.com/jvmscope/jvmscope/internal/model"
)

// Spike is a load sample well above its neighbours, with the thread dumps
// taken while it lasted.
type Spike struct {
	Load     model.LoadSample
	Baseline float64
	DumpIDs  []string
}

// Correlate scans the load window of jvm and reports every sample whose CPU
// load exceeds SpikeFactor times the mean of up to LookBack preceding and
// LookAhead following samples. Dumps taken between the neighbouring
// samples are attached to the spike.
func (e *Engine) Correlate(jvm model.AgentJVM) []Spike {
	w := e.windows(jvm, false)
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	var spikes []Spike
	w.load.Scan(e.config.LookBack, e.config.LookAhead, func(n window.Neighborhood[model.LoadSample]) bool {
		count := len(n.Previous) + len(n.Next)
		if count == 0 {
			return true
		}
		sum := 0.0
		for _, p := range n.Previous {
			sum += p.Value.CPULoad
		}
		for _, p := range n.Next {
			sum += p.Value.CPULoad
		}
		baseline := sum / float64(count)
		if n.Focal.Value.CPULoad <= e.config.SpikeFactor*baseline {
			return true
		}

		spike := Spike{Load: n.Focal.Value, Baseline: baseline}
		from, to := n.Focal.Timestamp, n.Focal.Timestamp
		if len(n.Previous) > 0 {
			from = n.Previous[len(n.Previous)-1].Timestamp
		}
		if len(n.Next) > 0 {
			to = n.Next[0].Timestamp
		}
		dumps, err := w.dumps.Values(from, to.Add(1))
		if err == nil {
			for _, d := range dumps {
				spike.DumpIDs = append(spike.DumpIDs, d.Value...)
			}
		}
		spikes = append(spikes, spike)
		return true
	})
	return spikes
}
