// Package scope maps a credential owner's organizer code to the set of
// surveillance rows and columns that owner may read.
package scope

import "fmt"

type Kind string

const (
	KindCentral  Kind = "central"
	KindProvince Kind = "province"
	KindZone     Kind = "zone"
	KindExternal Kind = "external"
	KindUnknown  Kind = "unknown"
)

// Scope is one of Central, Province, Zone, External or Unknown. The set is
// closed: only this package can add variants.
type Scope interface {
	Kind() Kind
	String() string
	isScope()
}

// Central sees every row.
type Central struct{}

// Province sees the rows of a single province.
type Province struct {
	ProvinceID int
}

// Zone sees the rows of the provinces grouped under ZoneID.
type Zone struct {
	ZoneID int
}

// External sees every row but only the public column set.
type External struct{}

// Unknown sees nothing.
type Unknown struct{}

func (Central) Kind() Kind  { return KindCentral }
func (Province) Kind() Kind { return KindProvince }
func (Zone) Kind() Kind     { return KindZone }
func (External) Kind() Kind { return KindExternal }
func (Unknown) Kind() Kind  { return KindUnknown }

func (Central) String() string    { return "CENTRAL" }
func (p Province) String() string { return fmt.Sprintf("PROVINCE(%d)", p.ProvinceID) }
func (z Zone) String() string     { return fmt.Sprintf("ZONE(%d)", z.ZoneID) }
func (External) String() string   { return "EXTERNAL" }
func (Unknown) String() string    { return "UNKNOWN" }

func (Central) isScope()  {}
func (Province) isScope() {}
func (Zone) isScope()     {}
func (External) isScope() {}
func (Unknown) isScope()  {}
