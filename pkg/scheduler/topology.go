package scheduler

import "github.com/fideoman/bmqsched/internal/config"

// topology is the simulated CPU topology that pull migration and SMT
// balancing walk outward through (SMT siblings, then same package, then
// every CPU), resolved once at Scheduler construction from
// internal/config's TopologyConfig since no real hardware discovery hook
// exists in this user-space simulation.
type topology struct {
	numCPUs  int
	smt      []CPUSet // smt[c] = sibling set of CPU c, including c itself
	pkg      []CPUSet // pkg[c] = package-mate set of CPU c, including c itself
	all      CPUSet   // all possible CPUs
}

func buildTopology(cfg config.TopologyConfig, numCPUs int) *topology {
	t := &topology{
		numCPUs: numCPUs,
		smt:     make([]CPUSet, numCPUs),
		pkg:     make([]CPUSet, numCPUs),
	}
	for c := 0; c < numCPUs; c++ {
		t.all = t.all.Add(c)
		t.smt[c] = NewCPUSet(c)
		t.pkg[c] = NewCPUSet(c)
	}
	for _, grp := range cfg.SMTGroups {
		set := NewCPUSet(grp...)
		for _, c := range grp {
			if c >= 0 && c < numCPUs {
				t.smt[c] = set
			}
		}
	}
	for _, grp := range cfg.Packages {
		set := NewCPUSet(grp...)
		for _, c := range grp {
			if c >= 0 && c < numCPUs {
				t.pkg[c] = set
			}
		}
	}
	return t
}

// rings returns the topology-ordered affinity sweep for CPU c: SMT
// siblings first, then the rest of the package, then every other CPU.
func (t *topology) rings(c int) []CPUSet {
	return []CPUSet{
		t.smt[c],
		t.pkg[c].And(^t.smt[c] & t.all), // rest of package, excluding SMT siblings already covered
		t.all,
	}
}

// siblingsIdle reports whether every SMT sibling of cpu (other CPUs in
// its sibling group) is currently at the idle watermark level. It reads
// each sibling's lock-free watermark mirror: the caller usually holds
// its own rq.lock, and taking a sibling's here would deadlock two
// concurrent publications against each other.
func (t *topology) siblingsIdle(cpu int, sched *Scheduler) bool {
	group := t.smt[cpu]
	for c := 0; c < t.numCPUs; c++ {
		if c == cpu || !group.Has(c) {
			continue
		}
		if int(sched.rqs[c].wmLevel.Load()) != idleLevel {
			return false
		}
	}
	return true
}

// smtGroup returns the full sibling set (including cpu) for cpu.
func (t *topology) smtGroup(cpu int) CPUSet { return t.smt[cpu] }
