package scheduler

// Unit is one schedulable work item: a single chunk of a single instance.
type Unit struct {
	Instance string
	Chunk    int
}

// InstanceChunks pairs an instance with its chunk count.
type InstanceChunks struct {
	Instance string
	Chunks   int
}

// BuildUnits expands per-instance chunk counts into the flat ordered work
// list: every chunk of the first instance, then the second, and so on. The
// list is the same on every task, which is what makes the static assignment
// in Assign safe without any coordination.
func BuildUnits(counts []InstanceChunks) []Unit {
	var units []Unit
	for _, ic := range counts {
		for c := 1; c <= ic.Chunks; c++ {
			units = append(units, Unit{Instance: ic.Instance, Chunk: c})
		}
	}
	return units
}

// Assign returns the units owned by taskIndex under round-robin assignment:
// unit i belongs to task i mod taskCount. The mapping depends only on
// position, so concurrent tasks derive disjoint ownership independently.
// Load may skew when chunk costs differ.
func Assign(units []Unit, taskIndex, taskCount int) []Unit {
	if taskCount <= 1 {
		return units
	}
	var out []Unit
	for i, u := range units {
		if i%taskCount == taskIndex {
			out = append(out, u)
		}
	}
	return out
}
