package store

// Row types mirror the persistent schema one to one. They are deliberately
// separate from the in-memory model types: GORM tags and surrogate ids stay
// at this boundary and never leak into pkg/model.

// StateRow is the singleton metadata row recording schema version and the
// time of the last successful save.
type StateRow struct {
	ID      uint `gorm:"primaryKey"`
	Version int  `gorm:"not null"`
	Time    int64
}

// TableName overrides the GORM default.
func (StateRow) TableName() string { return "states" }

// ExeRow is one tracked executable.
type ExeRow struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	Seq        int64  `gorm:"uniqueIndex;not null"`
	UpdateTime int64  `gorm:"not null"`
	Time       int64  // last observed launch
	RunTime    int64  // accumulated observed running seconds
	URI        string `gorm:"uniqueIndex;not null"`
}

// TableName overrides the GORM default.
func (ExeRow) TableName() string { return "exes" }

// MapRow is one mapped file region.
type MapRow struct {
	ID         uint  `gorm:"primaryKey;autoIncrement"`
	Seq        int64 `gorm:"uniqueIndex;not null"`
	UpdateTime int64 `gorm:"not null"`
	Offset     uint64
	Length     uint64
	URI        string `gorm:"index;not null"`
}

// TableName overrides the GORM default.
func (MapRow) TableName() string { return "maps" }

// ExeMapRow associates an exe with a map it uses.
type ExeMapRow struct {
	ID     uint    `gorm:"primaryKey;autoIncrement"`
	Seq    int64   `gorm:"index:idx_exemaps_pair,unique;not null"` // exe seq
	MapSeq int64   `gorm:"index:idx_exemaps_pair,unique;not null"`
	Prob   float64 `gorm:"not null"`
}

// TableName overrides the GORM default.
func (ExeMapRow) TableName() string { return "exemaps" }

// BadExeRow is a uri excluded from tracking until its cooldown elapses.
type BadExeRow struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	UpdateTime int64  `gorm:"not null"`
	URI        string `gorm:"uniqueIndex;not null"`
}

// TableName overrides the GORM default.
func (BadExeRow) TableName() string { return "badexes" }

// MarkovRow is the correlation record for one exe pair. TimeToLeave and
// Weight are versioned binary payloads (see codec.go); a row whose payload
// fails to decode is skipped at load time, not fatal.
type MarkovRow struct {
	ID          uint  `gorm:"primaryKey;autoIncrement"`
	ASeq        int64 `gorm:"index:idx_markov_pair,unique;not null"`
	BSeq        int64 `gorm:"index:idx_markov_pair,unique;not null"`
	Time        int64
	TimeToLeave []byte
	Weight      []byte
}

// TableName overrides the GORM default.
func (MarkovRow) TableName() string { return "markovstates" }

// AllModels returns every row type for AutoMigrate.
func AllModels() []any {
	return []any{
		&StateRow{},
		&ExeRow{},
		&MapRow{},
		&ExeMapRow{},
		&BadExeRow{},
		&MarkovRow{},
	}
}
