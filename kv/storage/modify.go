package storage

// ModifyType is the smallest unit of mutation of tinytxn's underlying storage
// (i.e., raw key/values on disk).
type ModifyType int64

const (
	ModifyTypePut    ModifyType = 1
	ModifyTypeDelete ModifyType = 2
	ModifyTypeMerge  ModifyType = 3
)

type Put struct {
	Key   []byte
	Value []byte
	Cf    string
}

type Delete struct {
	Key []byte
	Cf  string
}

// Merge carries an operand to be combined with the key's existing value by
// the storage's merge operator when the batch is applied.
type Merge struct {
	Key     []byte
	Operand []byte
	Cf      string
}

type Modify struct {
	Type ModifyType
	Data interface{}
}

func (m *Modify) Key() []byte {
	switch m.Type {
	case ModifyTypePut:
		return m.Data.(Put).Key
	case ModifyTypeDelete:
		return m.Data.(Delete).Key
	case ModifyTypeMerge:
		return m.Data.(Merge).Key
	}
	return nil
}

func (m *Modify) Cf() string {
	switch m.Type {
	case ModifyTypePut:
		return m.Data.(Put).Cf
	case ModifyTypeDelete:
		return m.Data.(Delete).Cf
	case ModifyTypeMerge:
		return m.Data.(Merge).Cf
	}
	return ""
}
