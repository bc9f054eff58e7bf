package store

// Key prefixes partition the shared provider keyspace.
const (
	PrefixUnit      = "u/"
	PrefixUnitState = "s/"
	PrefixFinalized = "f/"
	PrefixMeta      = "m/"
)

const (
	MetaKeyNextOffset = "next_offset"
	MetaKeyLastRound  = "last_round"
)
