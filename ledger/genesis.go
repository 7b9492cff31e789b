package ledger

import (
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Genesis is the initial configuration of a devnet ledger.
type Genesis struct {
	ChainID     string            `yaml:"chain_id"`
	Allocations map[string]uint64 `yaml:"allocations"`
}

// GenesisFromYAML reads a genesis file.
func GenesisFromYAML(path string) (*Genesis, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	g := Genesis{}
	err = yaml.Unmarshal(yamlFile, &g)
	if err != nil {
		return nil, err
	}
	if g.Allocations == nil {
		g.Allocations = map[string]uint64{}
	}

	return &g, nil
}

func (g Genesis) sortedAddresses() []string {
	addrs := make([]string, 0, len(g.Allocations))
	for addr := range g.Allocations {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}
