package model

import (
	"maps"
	"slices"

	"github.com/alapierre/go-fints-client/fints/segment"
)

// DefaultTanProcedure is the one step PIN/TAN security function.
const DefaultTanProcedure = "999"

// BPD holds the bank parameter data learned during dialog initialisation.
type BPD struct {
	Version           int
	BankName          string
	SupportedVersions []int
	URL               string
	Pin               PinInfo
	Tan               TanInfo

	// Parameters maps a bank side transaction type (e.g. HISAL) and version
	// to the parameter segment announced for it (HISALS).
	Parameters map[string]map[int]*segment.Segment
}

func NewBPD(url string) *BPD {
	return &BPD{
		URL:        url,
		Pin:        PinInfo{TanRequired: map[string]bool{}},
		Tan:        TanInfo{Procedures: map[string]TanProcedure{}},
		Parameters: map[string]map[int]*segment.Segment{},
	}
}

// AddParameters stores a parameter segment under the type derived from its
// name by dropping the trailing 'S'.
func (b *BPD) AddParameters(s *segment.Segment) {
	t := s.Name[:5]
	if b.Parameters[t] == nil {
		b.Parameters[t] = map[int]*segment.Segment{}
	}
	b.Parameters[t][s.Version] = s
}

// Versions returns the versions announced for a transaction type in
// ascending order.
func (b *BPD) Versions(bankType string) []int {
	return slices.Sorted(maps.Keys(b.Parameters[bankType]))
}

func (b *BPD) Supports(bankType string, version int) bool {
	_, ok := b.Parameters[bankType][version]
	return ok
}

func (b *BPD) Clone() *BPD {
	c := *b
	c.SupportedVersions = slices.Clone(b.SupportedVersions)
	c.Pin = b.Pin.clone()
	c.Tan = b.Tan.clone()
	c.Parameters = make(map[string]map[int]*segment.Segment, len(b.Parameters))
	for t, byVersion := range b.Parameters {
		m := make(map[int]*segment.Segment, len(byVersion))
		for v, s := range byVersion {
			m[v] = s.Clone()
		}
		c.Parameters[t] = m
	}
	return &c
}

// PinInfo is the PIN/TAN policy from HIPINS (or DIPINS for HBCI 2.2).
type PinInfo struct {
	MinLength      int
	MaxLength      int
	MaxTanLength   int
	UserIDText     string
	CustomerIDText string
	TanRequired    map[string]bool
}

func (p PinInfo) clone() PinInfo {
	p.TanRequired = maps.Clone(p.TanRequired)
	return p
}

// TanInfo is the two step TAN procedure table from HITANS.
type TanInfo struct {
	OneStepAllowed bool
	MultipleTANs   bool
	HashType       string
	Procedures     map[string]TanProcedure
}

func (t TanInfo) clone() TanInfo {
	t.Procedures = maps.Clone(t.Procedures)
	return t
}

type TanProcedure struct {
	Code                   string
	OneTwoStep             string
	TechID                 string
	ZKAName                string
	ZKAVersion             string
	Description            string
	MaxLenTAN              int
	Alphanumeric           bool
	ReturnText             string
	MaxLenReturn           int
	NumTanLists            int
	MultipleTANs           bool
	TimeDialogRef          string
	TanListNumberRequired  bool
	Cancellable            bool
	SMSAccountRequired     bool
	OrderAccountRequired   bool
	ChallengeClassRequired bool
	ChallengeStructured    bool
	InitMode               string
	MediumNameRequired     bool
	HHDUCRequired          bool
	NumSupportedMedia      int
}

// UPD holds the user parameter data.
type UPD struct {
	Version            int
	StoresTransactions bool
	// TanProcedures lists the allowed security functions, the first one is active.
	TanProcedures []string
}

func NewUPD() *UPD {
	return &UPD{TanProcedures: []string{DefaultTanProcedure}}
}

func (u *UPD) ActiveTanProcedure() string {
	if len(u.TanProcedures) == 0 {
		return DefaultTanProcedure
	}
	return u.TanProcedures[0]
}

func (u *UPD) Clone() *UPD {
	c := *u
	c.TanProcedures = slices.Clone(u.TanProcedures)
	return &c
}
