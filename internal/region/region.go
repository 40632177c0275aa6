// Package region holds the shard data model: a Region is a contiguous
// key-range owned by either a data (store) shard or an index shard,
// matching the RegionType tag the coordinator attaches in GetRegionMap
// responses (see original_source's io.dingodb.sdk.service.entity.common.Region).
package region

// Type distinguishes the two kinds of shard a Region can back.
type Type int32

const (
	// DataRegion holds primary table rows.
	DataRegion Type = iota
	// IndexRegion holds secondary index entries.
	IndexRegion
)

// KeyRange is a half-open byte-string range [Start, End).
type KeyRange struct {
	Start []byte
	End   []byte
}

// Region is one shard of the key-value keyspace.
type Region struct {
	ID    uint64
	Type  Type
	Range KeyRange
}

// tableKeyspacePrefix is the leading byte of every key in the table
// keyspace, per spec.md §3: "Only regions whose startKey begins with the
// byte 't' ... are processed".
const tableKeyspacePrefix = 't'

// InTableKeyspace reports whether r belongs to the table keyspace and
// should be scanned by the GC driver (spec.md invariant P4).
func (r Region) InTableKeyspace() bool {
	return len(r.Range.Start) > 0 && r.Range.Start[0] == tableKeyspacePrefix
}
