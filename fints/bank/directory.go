// Package bank maps German bank codes (BLZ) to FinTS server addresses.
//
// A directory can be built in code or loaded from YAML, environment
// variables in the file are expanded:
//
//	banks:
//	  - blz: "12345678"
//	    name: Testbank
//	    url: ${TESTBANK_URL}
package bank

import (
	"os"
	"strings"

	"github.com/go-faster/errors"
	"gopkg.in/yaml.v3"
)

// Bank is one directory entry.
type Bank struct {
	BLZ  string `yaml:"blz"`
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Directory resolves a bank code to its connection data.
type Directory interface {
	Lookup(blz string) (Bank, bool)
}

// Map is an in-memory Directory keyed by bank code.
type Map map[string]Bank

func (m Map) Lookup(blz string) (Bank, bool) {
	b, ok := m[strings.TrimSpace(blz)]
	return b, ok
}

// Single returns a directory with exactly one bank.
func Single(blz, url string) Map {
	return Map{blz: {BLZ: blz, URL: url}}
}

type file struct {
	Banks []Bank `yaml:"banks"`
}

// LoadFile reads a YAML directory file.
func LoadFile(path string) (Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read bank directory %s", path)
	}
	return Parse(data)
}

func Parse(data []byte) (Map, error) {
	var f file
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &f); err != nil {
		return nil, errors.Wrap(err, "parse bank directory")
	}
	m := make(Map, len(f.Banks))
	for i, b := range f.Banks {
		if b.BLZ == "" || b.URL == "" {
			return nil, errors.Errorf("bank directory entry %d: blz and url are required", i+1)
		}
		if _, dup := m[b.BLZ]; dup {
			return nil, errors.Errorf("bank directory: duplicate blz %s", b.BLZ)
		}
		m[b.BLZ] = b
	}
	return m, nil
}
