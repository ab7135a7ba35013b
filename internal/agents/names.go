package agents

import "hash/fnv"

// workerNames is the fixed pool of worker names. The list is fixed so the
// same swarm and index always resolve to the same name across restarts.
var workerNames = []string{
	"Amber", "Basil", "Cedar", "Dahlia", "Ember",
	"Fennel", "Ginger", "Hazel", "Indigo", "Juniper",
	"Clover", "Laurel", "Maple", "Nectar", "Ochre",
	"Poppy", "Quince", "Rowan", "Saffron", "Thistle",
	"Umber", "Violet", "Willow", "Yarrow", "Zinnia",
	"Aster", "Bramble", "Cassia", "Dill", "Elder",
	"Flax", "Gorse", "Heather", "Iris", "Jasmine",
	"Kestrel", "Linden", "Myrtle", "Nettle", "Olive",
}

// WorkerName returns a deterministic worker name for a swarm and agent
// index; the same inputs always produce the same name.
func WorkerName(swarmID string, index int) string {
	if len(workerNames) == 0 {
		return ""
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(swarmID))
	return workerNames[(int(h.Sum32())+index)%len(workerNames)]
}
