package table

// GeneSets is a many-to-many gene -> set mapping with an optional
// description per set. Static reference data, never mutated after load.
type GeneSets struct {
	bySet  map[string][]string
	byGene map[string][]string
	Desc   map[string]string
}

// NewGeneSets builds the two-way index from (gene, set) pairs.
func NewGeneSets() *GeneSets {
	return &GeneSets{
		bySet:  make(map[string][]string),
		byGene: make(map[string][]string),
		Desc:   make(map[string]string),
	}
}

// Add records membership of gene in set. Repeated identical pairs are
// collapsed.
func (gs *GeneSets) Add(gene, set string) {
	for _, s := range gs.byGene[gene] {
		if s == set {
			return
		}
	}
	gs.byGene[gene] = append(gs.byGene[gene], set)
	gs.bySet[set] = append(gs.bySet[set], gene)
}

// Sets returns all set identifiers (unordered).
func (gs *GeneSets) Sets() []string {
	out := make([]string, 0, len(gs.bySet))
	for s := range gs.bySet {
		out = append(out, s)
	}
	return out
}

// Members returns the genes annotated to a set.
func (gs *GeneSets) Members(set string) []string { return gs.bySet[set] }

// SetsOf returns the sets a gene belongs to.
func (gs *GeneSets) SetsOf(gene string) []string { return gs.byGene[gene] }

// Description returns the human-readable description of a set, or "".
func (gs *GeneSets) Description(set string) string { return gs.Desc[set] }

// NSets reports the number of distinct sets.
func (gs *GeneSets) NSets() int { return len(gs.bySet) }
