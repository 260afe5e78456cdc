// Package namemap maps chat endpoint addresses to display names and records
// which address belongs to the archive owner.
package namemap

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dhcgn/mbox-to-transcripts/model"
)

const FileName = "name_map"

var ErrNoAddresses = errors.New("no chat addresses observed")

// NameMap is the user-editable identity file.
type NameMap struct {
	AllAddresses map[string]string `json:"all_addresses"`
	MyAddress    string            `json:"my_address"`
}

// Load reads an existing name map.
func Load(path string) (*NameMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read name map: %w", err)
	}
	var nm NameMap
	if err := json.Unmarshal(data, &nm); err != nil {
		return nil, fmt.Errorf("decode name map %s: %w", path, err)
	}
	if nm.AllAddresses == nil {
		nm.AllAddresses = make(map[string]string)
	}
	return &nm, nil
}

// FromAddresses builds a fresh map with every address unnamed and the most
// frequent address as the owner.
func FromAddresses(table *model.AddressTable) (*NameMap, error) {
	if table == nil || table.Len() == 0 {
		return nil, ErrNoAddresses
	}
	nm := &NameMap{AllAddresses: make(map[string]string, table.Len()), MyAddress: table.MostFrequent()}
	for _, addr := range table.Addresses() {
		nm.AllAddresses[addr] = ""
	}
	return nm, nil
}

// Save writes the map as indented JSON with sorted keys.
func (n *NameMap) Save(path string) error {
	data, err := json.MarshalIndent(n, "", "    ")
	if err != nil {
		return fmt.Errorf("encode name map: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write name map: %w", err)
	}
	return nil
}

// LoadOrCreate loads path, or builds and saves a new map from the table
// returned by addresses when the file does not exist yet.
func LoadOrCreate(path string, addresses func() (*model.AddressTable, error)) (*NameMap, bool, error) {
	if _, err := os.Stat(path); err == nil {
		nm, err := Load(path)
		return nm, false, err
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, false, fmt.Errorf("stat name map: %w", err)
	}

	table, err := addresses()
	if err != nil {
		return nil, false, err
	}
	nm, err := FromAddresses(table)
	if err != nil {
		return nil, false, err
	}
	if err := nm.Save(path); err != nil {
		return nil, false, err
	}
	return nm, true, nil
}

// Display returns the mapped name of addr, or addr itself when unmapped.
func (n *NameMap) Display(addr string) string {
	if n == nil {
		return addr
	}
	if name := n.AllAddresses[addr]; name != "" {
		return name
	}
	return addr
}

// Resolve derives the two participants of a conversation from its first
// message: the sender is the other party unless it is the owner.
func (n *NameMap) Resolve(first model.Message) (me, other string) {
	other, me = first.From, first.To
	if n != nil && other == n.MyAddress {
		me, other = other, me
	}
	return n.Display(me), n.Display(other)
}

// Notice is printed after a run that created the name map.
func Notice(path string) string {
	return fmt.Sprintf(`A name map has been created at '%s'.

A name map allows you to replace addresses in text transcripts with names,
i.e. 'Aleister' instead of 'crowley.beast666@thelema.org'; this is optional.

To use the name map, type a name in the quotes next to each address that you
want displayed as a name instead of an address, save, then re-run the program.
`, path)
}
