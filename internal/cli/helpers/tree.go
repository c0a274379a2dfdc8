package helpers

import (
	"fmt"
	"strings"

	"github.com/jvmscope/jvmscope/internal/model"
)

// RenderFlowTree renders the call tree of a summary in ASCII art. Shares
// are relative to the root's call count.
func RenderFlowTree(s *model.FlowSummary) string {
	if s == nil || len(s.Roots) == 0 {
		return "No flows in this window.\n"
	}

	var buf strings.Builder
	fmt.Fprintf(&buf, "%s  %s .. %s\n", s.AgentJVM, s.From.UTC().Format("15:04:05"), s.To.UTC().Format("15:04:05"))
	for i, root := range s.Roots {
		last := i == len(s.Roots)-1
		fmt.Fprintf(&buf, "%s %s (%d calls)\n", connector(last), root.Method, root.CallCount)
		prefix := childPrefix("", last)
		for j := range root.Flows {
			renderFlow(&buf, &root.Flows[j], prefix, j == len(root.Flows)-1, root.CallCount)
		}
	}
	return buf.String()
}

func renderFlow(buf *strings.Builder, f *model.Flow, prefix string, last bool, total int) {
	share := 0.0
	if total > 0 {
		share = float64(f.Count) / float64(total) * 100
	}
	fmt.Fprintf(buf, "%s%s %s (%d calls, %.2f/s, %.1f%%)\n",
		prefix, connector(last), f.Callee, f.Count, f.ThroughputPerSec, share)

	next := childPrefix(prefix, last)
	for i := range f.Children {
		renderFlow(buf, &f.Children[i], next, i == len(f.Children)-1, total)
	}
}

func connector(last bool) string {
	if last {
		return "└─"
	}
	return "├─"
}

func childPrefix(prefix string, last bool) string {
	if last {
		return prefix + "  "
	}
	return prefix + "│ "
}
